package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/slab-market/internal/api/handlers"
	"github.com/codyseavey/slab-market/internal/api/middleware"
	"github.com/codyseavey/slab-market/internal/config"
	"github.com/codyseavey/slab-market/internal/services"
)

// Services bundles what the HTTP layer calls into
type Services struct {
	Resolver  *services.CardResolver
	Market    *services.MarketService
	Refresher *services.RefreshOrchestrator
}

func SetupRouter(cfg *config.Config, svc Services) (*gin.Engine, error) {
	readLimiter, err := middleware.NewCallerLimiter("read", cfg.RateLimit.ReadPerMinute, cfg.RateLimit.MaxCallers)
	if err != nil {
		return nil, err
	}
	purgeLimiter, err := middleware.NewCallerLimiter("purge", cfg.RateLimit.PurgePerMinute, cfg.RateLimit.MaxCallers)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.SetupCORS(cfg.Server.CORSAllowedOrigins))

	// Initialize handlers
	cardHandler := handlers.NewCardHandler(svc.Resolver)
	collectionHandler := handlers.NewCollectionHandler(svc.Resolver, svc.Refresher)
	marketHandler := handlers.NewMarketHandler(svc.Market, svc.Refresher)

	api := router.Group("/api")
	{
		// Card routes
		cards := api.Group("/cards")
		{
			cards.POST("", cardHandler.RegisterCard)
			cards.POST("/resolve", cardHandler.ResolveCards)
			cards.GET("/:id", cardHandler.GetCard)
			cards.PUT("/:id/population", cardHandler.UpdatePopulation)
		}

		// Holdings
		api.POST("/holdings", collectionHandler.AddHolding)
		api.POST("/consignments", collectionHandler.AddConsignment)

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/status", marketHandler.GetStatus)
			market.GET("/:id", readLimiter.Handler(), marketHandler.GetSnapshot)
			market.POST("/batch", readLimiter.Handler(), marketHandler.GetSnapshotBatch)
			market.POST("/purge", purgeLimiter.Handler(), marketHandler.PurgeCache)
			market.POST("/:id/refresh", marketHandler.ScheduleRefresh)
			market.POST("/:id/refresh-now", marketHandler.RefreshNow)
			market.POST("/:id/cash-sales", marketHandler.RecordCashSale)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router, nil
}
