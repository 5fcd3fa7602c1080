package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/models"
	"github.com/codyseavey/slab-market/internal/services"
)

// Maximum quantity allowed per holding
const maxQuantity = 9999

// CollectionHandler adds owned and consigned holdings. Each new holding gets a
// delayed background refresh so batch imports are spread out.
type CollectionHandler struct {
	resolver  *services.CardResolver
	refresher *services.RefreshOrchestrator
}

func NewCollectionHandler(resolver *services.CardResolver, refresher *services.RefreshOrchestrator) *CollectionHandler {
	return &CollectionHandler{
		resolver:  resolver,
		refresher: refresher,
	}
}

func (h *CollectionHandler) AddHolding(c *gin.Context) {
	var req models.AddHoldingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be positive"})
		return
	}
	if req.Quantity > maxQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity exceeds maximum allowed (9999)"})
		return
	}

	item, err := h.resolver.AddHolding(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"item":    item,
		"refresh": h.scheduleRefresh(c, item.ID),
	})
}

func (h *CollectionHandler) AddConsignment(c *gin.Context) {
	var req models.AddConsignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AskingPrice != nil && *req.AskingPrice < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asking_price must not be negative"})
		return
	}

	item, err := h.resolver.AddConsignment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"item":    item,
		"refresh": h.scheduleRefresh(c, item.ID),
	})
}

// scheduleRefresh never fails the request; the holding already exists
func (h *CollectionHandler) scheduleRefresh(c *gin.Context, id string) *services.ScheduleResult {
	if h.refresher == nil {
		return nil
	}
	res, err := h.refresher.ScheduleRefresh(c.Request.Context(), id, services.RefreshOptions{
		UseAIFiltering: true,
		RandomizeDelay: true,
	})
	if err != nil {
		logger.WarnCtx(c.Request.Context(), "Failed to schedule refresh for new holding",
			zap.String("item_id", id), zap.Error(err))
		return nil
	}
	return res
}
