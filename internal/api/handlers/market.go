package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/slab-market/internal/models"
	"github.com/codyseavey/slab-market/internal/services"
)

type MarketHandler struct {
	market    *services.MarketService
	refresher *services.RefreshOrchestrator
}

func NewMarketHandler(market *services.MarketService, refresher *services.RefreshOrchestrator) *MarketHandler {
	return &MarketHandler{
		market:    market,
		refresher: refresher,
	}
}

// GetSnapshot returns the market snapshot for one item
// Query: include_history (bool), history_points (int)
func (h *MarketHandler) GetSnapshot(c *gin.Context) {
	opts := services.SnapshotOptions{}
	if v := c.Query("include_history"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "include_history must be a boolean"})
			return
		}
		opts.IncludeHistory = include
	}
	if v := c.Query("history_points"); v != "" {
		points, err := strconv.Atoi(v)
		if err != nil || points < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "history_points must be a non-negative integer"})
			return
		}
		opts.HistoryPoints = points
	}

	snap, err := h.market.GetSnapshot(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetSnapshotBatch returns snapshots for up to 50 ids; unknown ids map to null
func (h *MarketHandler) GetSnapshotBatch(c *gin.Context) {
	var req models.SnapshotBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snaps, err := h.market.GetSnapshotBatch(c.Request.Context(), req.IDs, services.SnapshotOptions{
		IncludeHistory: req.IncludeHistory,
		HistoryPoints:  req.HistoryPoints,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (h *MarketHandler) PurgeCache(c *gin.Context) {
	var req models.PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.market.PurgeCache(c.Request.Context(), req.IDs, req.Pattern)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type scheduleRefreshRequest struct {
	UseAIFiltering bool `json:"use_ai_filtering"`
	DelayMS        int  `json:"delay_ms"`
	RandomizeDelay bool `json:"randomize_delay"`
}

// ScheduleRefresh queues a background refresh. 200 when sales are already
// stored (instant), 202 when a refresh was queued or is already pending.
func (h *MarketHandler) ScheduleRefresh(c *gin.Context) {
	var req scheduleRefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.DelayMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delay_ms must not be negative"})
		return
	}

	res, err := h.refresher.ScheduleRefresh(c.Request.Context(), c.Param("id"), services.RefreshOptions{
		UseAIFiltering: req.UseAIFiltering,
		Delay:          time.Duration(req.DelayMS) * time.Millisecond,
		RandomizeDelay: req.RandomizeDelay,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Instant {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

type refreshNowRequest struct {
	UseAIFiltering bool `json:"use_ai_filtering"`
}

// RefreshNow runs the acquisition pipeline synchronously
func (h *MarketHandler) RefreshNow(c *gin.Context) {
	var req refreshNowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.refresher.RefreshNow(c.Request.Context(), c.Param("id"), req.UseAIFiltering)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MarketHandler) RecordCashSale(c *gin.Context) {
	var req models.CashSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.market.RecordCashSale(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetStatus reports refresh, cache and marketplace quota state
func (h *MarketHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Status())
}
