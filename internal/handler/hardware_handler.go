// internal/handler/hardware_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kiosk-control/internal/service"
	"kiosk-control/internal/utils"
)

// HardwareHandler handles hardware status and maintenance requests
type HardwareHandler struct {
	hardwareService *service.HardwareService
	logger          *utils.ServiceLogger
}

// NewHardwareHandler creates a new hardware handler
func NewHardwareHandler(hardwareService *service.HardwareService, logger *zap.Logger) *HardwareHandler {
	return &HardwareHandler{
		hardwareService: hardwareService,
		logger:          utils.NewServiceLogger(logger, "hardware-handler"),
	}
}

// RegisterRoutes registers hardware routes
func (h *HardwareHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/hardware/status", h.Status)
	router.POST("/hardware/command", h.RawCommand)
	router.POST("/hardware/relays/on", h.RelaysOn)
	router.POST("/hardware/relays/off", h.RelaysOff)
	router.POST("/hardware/hopper/dispense", h.HopperDispense)
	router.POST("/hardware/slots/jog", h.JogSlot)
}

// RawCommandRequest is the payload for the maintenance passthrough
type RawCommandRequest struct {
	Peripheral string `json:"peripheral" binding:"required"`
	Command    string `json:"command" binding:"required"`
}

// HopperDispenseRequest asks for a board-side raw dispense
type HopperDispenseRequest struct {
	Amount int `json:"amount" binding:"required,min=1"`
}

// JogSlotRequest holds one slot relay closed briefly to clear a jam
type JogSlotRequest struct {
	Slot   int `json:"slot" binding:"required,min=1"`
	HoldMs int `json:"hold_ms" binding:"min=0"`
}

// Status reports the aggregate hardware snapshot
func (h *HardwareHandler) Status(c *gin.Context) {
	report := h.hardwareService.Status(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Hardware status", report)
}

// RawCommand forwards a raw command to a peripheral
func (h *HardwareHandler) RawCommand(c *gin.Context) {
	var req RawCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.logger.Warn("Raw hardware command requested",
		zap.String("peripheral", req.Peripheral),
		zap.String("command", req.Command),
	)

	resp, err := h.hardwareService.RawCommand(c.Request.Context(), req.Peripheral, req.Command)
	if err != nil {
		utils.HardwareUnavailableResponse(c, req.Peripheral, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed", gin.H{
		"peripheral": req.Peripheral,
		"command":    req.Command,
		"response":   resp,
	})
}

// RelaysOff forces the hopper relays off
func (h *HardwareHandler) RelaysOff(c *gin.Context) {
	if err := h.hardwareService.RelaysOff(c.Request.Context()); err != nil {
		utils.HardwareUnavailableResponse(c, "hopper", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Relays forced off", nil)
}

// RelaysOn powers the hopper relays for a bench check
func (h *HardwareHandler) RelaysOn(c *gin.Context) {
	if err := h.hardwareService.RelaysOn(c.Request.Context()); err != nil {
		utils.HardwareUnavailableResponse(c, "hopper", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Relays powered on", nil)
}

// HopperDispense runs a board-side raw dispense for hopper verification
func (h *HardwareHandler) HopperDispense(c *gin.Context) {
	var req HopperDispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.logger.Warn("Maintenance hopper dispense requested", zap.Int("amount", req.Amount))

	res, err := h.hardwareService.HopperDispense(c.Request.Context(), req.Amount)
	if err != nil {
		utils.HardwareUnavailableResponse(c, "hopper", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Hopper dispense finished", res)
}

// JogSlot holds and releases one slot relay to clear a jam
func (h *HardwareHandler) JogSlot(c *gin.Context) {
	var req JogSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	hold := time.Duration(req.HoldMs) * time.Millisecond
	h.logger.Warn("Slot jog requested", zap.Int("slot", req.Slot), zap.Duration("hold", hold))

	if err := h.hardwareService.JogSlot(c.Request.Context(), req.Slot, hold); err != nil {
		utils.ErrorResponse(c, http.StatusConflict, "Slot jog failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Slot jogged", gin.H{"slot": req.Slot})
}
