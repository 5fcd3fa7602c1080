package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/slab-market/internal/models"
	"github.com/codyseavey/slab-market/internal/services"
)

// Maximum ids accepted by a batch resolve
const maxResolveBatch = 200

type CardHandler struct {
	resolver *services.CardResolver
}

func NewCardHandler(resolver *services.CardResolver) *CardHandler {
	return &CardHandler{resolver: resolver}
}

// GetCard resolves any item id to its card view
func (h *CardHandler) GetCard(c *gin.Context) {
	card, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type resolveRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// ResolveCards resolves a batch of ids; unknown ids are left out of the map
func (h *CardHandler) ResolveCards(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.IDs) > maxResolveBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids (max 200)"})
		return
	}

	cards, err := h.resolver.ResolveBatch(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// RegisterCard finds or creates the canonical card for a certificate
func (h *CardHandler) RegisterCard(c *gin.Context) {
	var req models.RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	card, created, err := h.resolver.RegisterCard(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"card": card, "created": created})
}

// UpdatePopulation refreshes population and image metadata of a canonical card
func (h *CardHandler) UpdatePopulation(c *gin.Context) {
	var req models.PopulationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.resolver.UpdatePopulation(c.Request.Context(), c.Param("id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
