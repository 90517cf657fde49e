// internal/service/vending_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kiosk-control/internal/config"
	"kiosk-control/internal/dispense"
	"kiosk-control/internal/model"
	"kiosk-control/internal/payment"
	"kiosk-control/internal/repository"
	"kiosk-control/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher pushes real-time events to connected clients. The
// websocket handler satisfies it.
type EventPublisher interface {
	PublishKioskEvent(eventType string, data map[string]interface{})
}

// VendingService orchestrates payment sessions and slot dispensing
type VendingService struct {
	session     *payment.Session
	coordinator *dispense.Coordinator
	sessionRepo repository.SessionRepository  // nil when no database
	dispenses   repository.DispenseRepository // nil when no database
	publisher   EventPublisher
	config      *config.Config
	logger      *utils.ServiceLogger
	auditLogger *utils.AuditLogger

	mu        sync.Mutex
	sessionID uuid.UUID
	active    bool

	pendingMu sync.Mutex
	pending   map[int]uuid.UUID // slot -> dispense row awaiting confirmation
}

// NewVendingService creates a vending service instance
func NewVendingService(
	session *payment.Session,
	coordinator *dispense.Coordinator,
	sessionRepo repository.SessionRepository,
	dispenses repository.DispenseRepository,
	publisher EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *VendingService {
	return &VendingService{
		session:     session,
		coordinator: coordinator,
		sessionRepo: sessionRepo,
		dispenses:   dispenses,
		publisher:   publisher,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "vending-service"),
		auditLogger: utils.NewAuditLogger(logger),
		pending:     make(map[int]uuid.UUID),
	}
}

// StartPayment opens a payment session for the required amount
func (vs *VendingService) StartPayment(ctx context.Context, required int) (uuid.UUID, error) {
	if required <= 0 {
		return uuid.Nil, fmt.Errorf("required amount must be positive")
	}

	vs.mu.Lock()
	if vs.active {
		vs.mu.Unlock()
		return uuid.Nil, fmt.Errorf("a payment session is already active")
	}
	sessionID := uuid.New()
	vs.sessionID = sessionID
	vs.active = true
	vs.mu.Unlock()

	onUpdate := func(total int) {
		vs.publish("payment_update", map[string]interface{}{
			"session_id": sessionID.String(),
			"required":   required,
			"total":      total,
		})
	}
	onChangeStatus := func(status string) {
		vs.publish("change_status", map[string]interface{}{
			"session_id": sessionID.String(),
			"status":     status,
		})
	}

	if err := vs.session.Start(required, onUpdate, onChangeStatus); err != nil {
		vs.mu.Lock()
		vs.active = false
		vs.mu.Unlock()
		return uuid.Nil, err
	}

	if vs.sessionRepo != nil {
		record := &model.PaymentRecord{
			ID:             sessionID,
			KioskID:        vs.config.App.KioskID,
			RequiredAmount: required,
			Status:         string(model.SessionCollecting),
			StartedAt:      time.Now(),
		}
		if err := vs.sessionRepo.Create(ctx, record); err != nil {
			vs.logger.Error("Failed to persist session start", zap.Error(err))
		}
	}

	vs.publish("payment_started", map[string]interface{}{
		"session_id": sessionID.String(),
		"required":   required,
	})

	vs.logger.Info("Payment session opened",
		zap.String("session_id", sessionID.String()),
		zap.Int("required", required),
	)
	return sessionID, nil
}

// StopPayment closes the active session and dispenses change
func (vs *VendingService) StopPayment(ctx context.Context, required int) (model.SessionResult, error) {
	vs.mu.Lock()
	if !vs.active {
		vs.mu.Unlock()
		return model.SessionResult{}, fmt.Errorf("no active payment session")
	}
	sessionID := vs.sessionID
	vs.mu.Unlock()

	result := vs.session.Stop(ctx, required)
	vs.closeSession(ctx, sessionID, required, result, "COMPLETED")
	return result, nil
}

// CancelPayment aborts the active session without dispensing change
func (vs *VendingService) CancelPayment(ctx context.Context) (model.SessionResult, error) {
	vs.mu.Lock()
	if !vs.active {
		vs.mu.Unlock()
		return model.SessionResult{}, fmt.Errorf("no active payment session")
	}
	sessionID := vs.sessionID
	vs.mu.Unlock()

	result := vs.session.Cancel(ctx)
	vs.closeSession(ctx, sessionID, 0, result, "CANCELLED")
	return result, nil
}

// PaymentState reports the live session snapshot
func (vs *VendingService) PaymentState() model.SessionState {
	return vs.session.State()
}

// closeSession records the terminal state everywhere it needs to go
func (vs *VendingService) closeSession(ctx context.Context, sessionID uuid.UUID, required int, result model.SessionResult, status string) {
	vs.mu.Lock()
	vs.active = false
	vs.mu.Unlock()

	vs.auditLogger.LogPaymentSession(sessionID.String(),
		required, result.TotalReceived, result.ChangeDispensed, status)

	if vs.sessionRepo != nil {
		now := time.Now()
		record := &model.PaymentRecord{
			ID:              sessionID,
			KioskID:         vs.config.App.KioskID,
			RequiredAmount:  required,
			CoinTotal:       result.CoinTotal,
			BillTotal:       result.BillTotal,
			ChangeDispensed: result.ChangeDispensed,
			Status:          status,
			StatusText:      result.StatusText,
			FinishedAt:      &now,
		}
		if err := vs.sessionRepo.Finish(ctx, record); err != nil {
			vs.logger.Error("Failed to persist session end", zap.Error(err))
		}
	}

	vs.publish("payment_finished", map[string]interface{}{
		"session_id": sessionID.String(),
		"status":     status,
		"total":      result.TotalReceived,
		"change":     result.ChangeDispensed,
		"message":    result.StatusText,
	})
}

// Vend dispenses quantity units of an item through the slot machinery
func (vs *VendingService) Vend(ctx context.Context, itemName string, quantity int) ([]dispense.UnitResult, error) {
	vs.mu.Lock()
	sessionID := vs.sessionID
	hasSession := vs.active
	vs.mu.Unlock()

	results, err := vs.coordinator.Dispense(ctx, itemName, quantity)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		rowID := uuid.New()
		if vs.dispenses != nil {
			record := &model.DispenseRecord{
				ID:        rowID,
				KioskID:   vs.config.App.KioskID,
				ItemName:  itemName,
				Slot:      res.Slot,
				Triggered: res.Triggered,
				Detail:    res.Error,
				CreatedAt: time.Now(),
			}
			if hasSession {
				sid := sessionID
				record.SessionID = &sid
			}
			if err := vs.dispenses.Create(ctx, record); err != nil {
				vs.logger.Error("Failed to persist dispense record", zap.Error(err))
			}
		}
		if res.Triggered {
			vs.rememberPending(res.Slot, rowID)
		}
	}

	vs.publish("vend_triggered", map[string]interface{}{
		"item":     itemName,
		"quantity": quantity,
		"results":  results,
	})
	return results, nil
}

// OnDispenseConfirmed is wired into the confirmation monitor
func (vs *VendingService) OnDispenseConfirmed(req model.DispenseRequest, elapsed time.Duration) {
	vs.auditLogger.LogDispense(vs.currentSessionID(), req.ItemName, req.SlotNumber, true)
	vs.resolvePending(req.SlotNumber, true,
		fmt.Sprintf("confirmed after %s", elapsed.Round(time.Millisecond)))

	vs.publish("dispense_confirmed", map[string]interface{}{
		"slot":       req.SlotNumber,
		"item":       req.ItemName,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// OnDispenseTimeout is wired into the confirmation monitor
func (vs *VendingService) OnDispenseTimeout(req model.DispenseRequest) {
	vs.auditLogger.LogDispense(vs.currentSessionID(), req.ItemName, req.SlotNumber, false)
	vs.resolvePending(req.SlotNumber, false, "no drop detected within timeout")

	vs.publish("dispense_timeout", map[string]interface{}{
		"slot": req.SlotNumber,
		"item": req.ItemName,
	})
}

func (vs *VendingService) rememberPending(slot int, rowID uuid.UUID) {
	vs.pendingMu.Lock()
	defer vs.pendingMu.Unlock()
	vs.pending[slot] = rowID
}

func (vs *VendingService) resolvePending(slot int, confirmed bool, detail string) {
	vs.pendingMu.Lock()
	rowID, ok := vs.pending[slot]
	if ok {
		delete(vs.pending, slot)
	}
	vs.pendingMu.Unlock()

	if !ok || vs.dispenses == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := vs.dispenses.MarkConfirmed(ctx, rowID, confirmed, detail); err != nil {
		vs.logger.Error("Failed to update dispense confirmation", zap.Error(err))
	}
}

func (vs *VendingService) currentSessionID() string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if !vs.active {
		return ""
	}
	return vs.sessionID.String()
}

func (vs *VendingService) publish(eventType string, data map[string]interface{}) {
	if vs.publisher != nil {
		vs.publisher.PublishKioskEvent(eventType, data)
	}
}
