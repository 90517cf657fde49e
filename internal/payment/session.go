// internal/payment/session.go
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/acceptor"
	"kiosk-control/internal/hopper"
	"kiosk-control/internal/model"
)

// ChangeDispenser is the slice of the hopper controller the session
// needs
type ChangeDispenser interface {
	DispenseChange(ctx context.Context, amount int, status func(string)) hopper.Result
	EnsureRelaysOff(ctx context.Context)
}

// PollGater pauses periodic traffic on a link shared with the hopper
// conversation. The coin stream adapter satisfies it.
type PollGater interface {
	SuspendPolling()
	ResumePolling()
}

// Session orchestrates one payment: collection through the coin and
// bill acceptors, caller-driven threshold handling, and change
// dispatch through the hopper. Crossing the required amount is the
// caller's decision; the session keeps collecting until Stop or
// Cancel is called explicitly.
type Session struct {
	coins     acceptor.Acceptor
	bills     acceptor.Acceptor
	dispenser ChangeDispenser
	gater     PollGater // nil when no link is shared
	logger    *zap.Logger

	mu             sync.Mutex
	state          model.SessionState
	onUpdate       func(total int)
	onChangeStatus func(status string)
}

// NewSession creates a payment session orchestrator. bills and gater
// may be nil on cabinets without the corresponding hardware.
func NewSession(coins, bills acceptor.Acceptor, dispenser ChangeDispenser, gater PollGater, logger *zap.Logger) *Session {
	s := &Session{
		coins:     coins,
		bills:     bills,
		dispenser: dispenser,
		gater:     gater,
		logger:    logger.With(zap.String("component", "payment-session")),
		state:     model.SessionState{Status: model.SessionIdle},
	}

	coins.SetCallback(s.onCoin)
	if bills != nil {
		bills.SetCallback(s.onBill)
	}
	return s
}

// Start resets both acceptors and begins collecting toward the
// required amount. onUpdate fires with the combined total after every
// event; onChangeStatus relays change-dispense progress during Stop.
func (s *Session) Start(required int, onUpdate func(int), onChangeStatus func(string)) error {
	s.mu.Lock()
	if s.state.Status == model.SessionCollecting {
		s.mu.Unlock()
		return fmt.Errorf("session already collecting")
	}
	s.mu.Unlock()

	// Quiesce the hardware before entering Collecting. The session is
	// still Idle here, so an acceptor callback racing the reset
	// delivers a pre-session total that applyEvent discards instead of
	// counting it into the new session.
	s.dispenser.EnsureRelaysOff(context.Background())
	s.coins.ResetAmount()
	if s.bills != nil {
		s.bills.ResetAmount()
	}

	s.mu.Lock()
	if s.state.Status == model.SessionCollecting {
		s.mu.Unlock()
		return fmt.Errorf("session already collecting")
	}
	s.state = model.SessionState{
		RequiredAmount: required,
		Status:         model.SessionCollecting,
		StartedAt:      time.Now(),
	}
	s.onUpdate = onUpdate
	s.onChangeStatus = onChangeStatus
	s.mu.Unlock()

	s.logger.Info("Payment session started", zap.Int("required", required))
	return nil
}

// State returns a snapshot of the session
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop ends collection and dispenses change for the overpayment. The
// returned result encodes hardware failures in its status text; the
// caller never gets an error for them.
func (s *Session) Stop(ctx context.Context, required int) model.SessionResult {
	return s.finish(ctx, required, false)
}

// Cancel ends collection without computing change; the collected total
// is reported for manual refund.
func (s *Session) Cancel(ctx context.Context) model.SessionResult {
	return s.finish(ctx, 0, true)
}

func (s *Session) finish(ctx context.Context, required int, cancelled bool) model.SessionResult {
	s.mu.Lock()
	if s.state.Status != model.SessionCollecting {
		s.mu.Unlock()
		return model.SessionResult{StatusText: "no active session"}
	}
	if cancelled {
		s.state.Status = model.SessionCancelled
	} else {
		s.state.Status = model.SessionCompleting
	}
	total := s.state.Total()
	coins, bills := s.state.CoinTotal, s.state.BillTotal
	statusCb := s.onChangeStatus
	s.mu.Unlock()

	result := model.SessionResult{TotalReceived: total, CoinTotal: coins, BillTotal: bills}

	if cancelled {
		result.StatusText = fmt.Sprintf("Cancelled: refund %d manually", total)
		s.logger.Info("Payment session cancelled", zap.Int("collected", total))
	} else {
		changeNeeded := total - required
		if changeNeeded < 0 {
			changeNeeded = 0
		}

		if changeNeeded > 0 {
			result.ChangeDispensed, result.StatusText = s.dispenseChange(ctx, changeNeeded, statusCb)
		}

		s.logger.Info("Payment session stopped",
			zap.Int("required", required),
			zap.Int("collected", total),
			zap.Int("change", result.ChangeDispensed),
		)
	}

	// Relays off and acceptor resets happen regardless of outcome.
	s.dispenser.EnsureRelaysOff(ctx)
	s.coins.ResetAmount()
	if s.bills != nil {
		s.bills.ResetAmount()
	}

	s.mu.Lock()
	s.state = model.SessionState{Status: model.SessionIdle}
	s.onUpdate = nil
	s.onChangeStatus = nil
	s.mu.Unlock()

	return result
}

// dispenseChange runs the hopper conversation with shared-link polling
// suspended. Polling resumes unconditionally, even when the hopper
// fails mid-way.
func (s *Session) dispenseChange(ctx context.Context, amount int, statusCb func(string)) (dispensed int, statusText string) {
	if s.gater != nil {
		s.gater.SuspendPolling()
		defer s.gater.ResumePolling()
	}

	res := s.dispenser.DispenseChange(ctx, amount, statusCb)
	if res.Complete {
		return res.Delivered, fmt.Sprintf("Change dispensed: %d", res.Delivered)
	}
	return res.Delivered, fmt.Sprintf("Change incomplete: dispensed %d of %d (%s)",
		res.Delivered, res.Requested, res.Failure)
}

// onCoin ingests a coin acceptor update. A late callback racing a
// logical session end is discarded instead of resurrecting totals.
func (s *Session) onCoin(received int) {
	s.applyEvent(func(st *model.SessionState) bool {
		if received < st.CoinTotal {
			return false // acceptor was rebased mid-flight, ignore
		}
		st.CoinTotal = received
		return true
	})
}

// onBill ingests a bill acceptor update
func (s *Session) onBill(received int) {
	s.applyEvent(func(st *model.SessionState) bool {
		if received < st.BillTotal {
			return false
		}
		st.BillTotal = received
		return true
	})
}

func (s *Session) applyEvent(mutate func(*model.SessionState) bool) {
	s.mu.Lock()
	if s.state.Status != model.SessionCollecting {
		s.mu.Unlock()
		return
	}
	if !mutate(&s.state) {
		s.mu.Unlock()
		return
	}
	total := s.state.Total()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(total)
	}
}
