package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/api"
	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/database"
	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/services"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	envPath := flag.String("env", "config/", "directory holding .env files")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": "slab-market"},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Flush(2 * time.Second)

	db, err := database.Open(cfg.Database, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache, err := services.NewSnapshotCache(cfg.Cache)
	if err != nil {
		logger.Fatal("Failed to create snapshot cache", zap.Error(err))
	}

	marketplace := services.NewMarketplaceClient(cfg.Marketplace)
	if !marketplace.IsConfigured() {
		logger.Warn("marketplace.base_url not set, refreshes will find no sales")
	}

	// Only hand the orchestrator an AI filter when one is usable
	var aiFilter services.SaleFilter
	if gemini := services.NewGeminiSaleFilter(cfg.Gemini); gemini.IsEnabled() {
		aiFilter = gemini
	}

	resolver := services.NewCardResolver(db)
	sales := services.NewSalesStore(db)
	refresher := services.NewRefreshOrchestrator(ctx, cfg.Refresh, resolver, sales, marketplace, aiFilter, cache)
	market := services.NewMarketService(resolver, sales, services.NewPricingCalculator(), cache, refresher, marketplace, cfg.Refresh.AutoOnEmpty)

	// Sweep expired snapshots in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error(fmt.Errorf("panic in cache sweeper: %v", r))
					}
				}()
				cache.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				logger.Info("Cache sweeper restarting after panic recovery")
			}
		}
	}()

	// Drain background refresh failures, which are already logged
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-refresher.Errors():
				logger.Debug("Background refresh failed", zap.Error(err))
			}
		}
	}()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.SetupRouter(cfg, api.Services{
		Resolver:  resolver,
		Market:    market,
		Refresher: refresher,
	})
	if err != nil {
		logger.Fatal("Failed to setup router", zap.Error(err))
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// Stop queued refreshes and the sweeper
	cancel()
	refresher.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server exited")
}
