// internal/handler/vend_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kiosk-control/internal/service"
	"kiosk-control/internal/utils"
)

// VendHandler handles slot dispense HTTP requests
type VendHandler struct {
	vendingService *service.VendingService
	logger         *utils.ServiceLogger
}

// NewVendHandler creates a new vend handler
func NewVendHandler(vendingService *service.VendingService, logger *zap.Logger) *VendHandler {
	return &VendHandler{
		vendingService: vendingService,
		logger:         utils.NewServiceLogger(logger, "vend-handler"),
	}
}

// RegisterRoutes registers vend routes
func (h *VendHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/vend", h.Vend)
}

// VendRequest is the payload for dispensing an item
type VendRequest struct {
	ItemName string `json:"item_name" binding:"required"`
	Quantity int    `json:"quantity"`
}

// Vend fires the slot motors for an item. A partial run still returns
// 200 with per-unit outcomes; the caller decides how to reconcile.
func (h *VendHandler) Vend(c *gin.Context) {
	var req VendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	results, err := h.vendingService.Vend(c.Request.Context(), req.ItemName, req.Quantity)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to dispense item", err)
		return
	}

	triggered := 0
	for _, r := range results {
		if r.Triggered {
			triggered++
		}
	}

	h.logger.Info("Vend request processed",
		zap.String("item", req.ItemName),
		zap.Int("quantity", req.Quantity),
		zap.Int("triggered", triggered),
	)

	utils.SuccessResponse(c, http.StatusOK, "Vend processed", gin.H{
		"item":      req.ItemName,
		"quantity":  req.Quantity,
		"triggered": triggered,
		"units":     results,
	})
}
