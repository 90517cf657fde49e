// internal/handler/payment_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kiosk-control/internal/service"
	"kiosk-control/internal/utils"
)

// PaymentHandler handles payment session HTTP requests
type PaymentHandler struct {
	vendingService *service.VendingService
	logger         *utils.ServiceLogger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(vendingService *service.VendingService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		vendingService: vendingService,
		logger:         utils.NewServiceLogger(logger, "payment-handler"),
	}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/payment/start", h.StartPayment)
	router.POST("/payment/stop", h.StopPayment)
	router.POST("/payment/cancel", h.CancelPayment)
	router.GET("/payment/state", h.PaymentState)
}

// StartPaymentRequest is the payload for opening a session
type StartPaymentRequest struct {
	RequiredAmount int `json:"required_amount" binding:"required,gt=0"`
}

// StopPaymentRequest is the payload for closing a session
type StopPaymentRequest struct {
	RequiredAmount int `json:"required_amount" binding:"required,gt=0"`
}

// StartPayment opens a payment session
func (h *PaymentHandler) StartPayment(c *gin.Context) {
	var req StartPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sessionID, err := h.vendingService.StartPayment(c.Request.Context(), req.RequiredAmount)
	if err != nil {
		utils.ErrorResponse(c, http.StatusConflict, "Failed to start payment session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Payment session started", gin.H{
		"session_id":      sessionID.String(),
		"required_amount": req.RequiredAmount,
	})
}

// StopPayment closes the session and dispenses change. Hardware
// trouble during change dispensing is reported inside the result
// payload, not as an HTTP error.
func (h *PaymentHandler) StopPayment(c *gin.Context) {
	var req StopPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.vendingService.StopPayment(c.Request.Context(), req.RequiredAmount)
	if err != nil {
		utils.ErrorResponse(c, http.StatusConflict, "Failed to stop payment session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Payment session stopped", result)
}

// CancelPayment aborts the session without change
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	result, err := h.vendingService.CancelPayment(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusConflict, "Failed to cancel payment session", err)
		return
	}

	h.logger.Info("Payment session cancelled via API",
		zap.Int("collected", result.TotalReceived),
	)
	utils.SuccessResponse(c, http.StatusOK, "Payment session cancelled", result)
}

// PaymentState reports the live session snapshot
func (h *PaymentHandler) PaymentState(c *gin.Context) {
	state := h.vendingService.PaymentState()
	utils.SuccessResponse(c, http.StatusOK, "Payment state", state)
}
