// internal/dispense/coordinator.go
package dispense

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/device"
	"kiosk-control/internal/gpio"
	"kiosk-control/internal/model"
)

// SlotSender issues commands to the actuator board; *device.BoundSender
// satisfies it
type SlotSender interface {
	Send(ctx context.Context, command string, timeout time.Duration, retries int) (string, error)
}

// Pulser drives the expansion-header motors; *gpio.ChannelController
// satisfies it
type Pulser interface {
	PulseChannel(slot int, duration time.Duration) error
}

// CoordinatorConfig tunes slot dispensing
type CoordinatorConfig struct {
	PulseDuration  time.Duration `mapstructure:"pulse_duration"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Retries        int           `mapstructure:"retries"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	InterUnitDelay time.Duration `mapstructure:"inter_unit_delay"`
}

// DefaultCoordinatorConfig returns the coordinator defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PulseDuration:  500 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
		Retries:        2,
		ConfirmTimeout: 8 * time.Second,
		InterUnitDelay: 300 * time.Millisecond,
	}
}

// UnitResult records one motor activation within a dispense
type UnitResult struct {
	Slot      int    `json:"slot"`
	Triggered bool   `json:"triggered"`
	Error     string `json:"error,omitempty"`
}

// Coordinator maps item names to physical slots and fires the motors,
// arming the confirmation monitor before each activation so a fast
// drop is never missed.
type Coordinator struct {
	table   model.SlotTable
	sender  SlotSender
	pulser  Pulser
	monitor *Monitor
	cfg     CoordinatorConfig
	logger  *zap.Logger

	mu     sync.Mutex
	cursor map[string]int // round-robin position per item
}

// NewCoordinator creates the coordinator. sender handles the directly
// wired slots; pulser, when non-nil, handles the expansion range.
func NewCoordinator(table model.SlotTable, sender SlotSender, pulser Pulser, monitor *Monitor, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		table:   table,
		sender:  sender,
		pulser:  pulser,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "slot-coordinator")),
		cursor:  make(map[string]int),
	}
}

// Dispense fires one motor activation per unit of the named item,
// rotating through the item's slots. Failed activations are recorded
// and the run continues; partial delivery is the caller's problem to
// surface, not a reason to strand the units already dropped.
func (c *Coordinator) Dispense(ctx context.Context, itemName string, quantity int) ([]UnitResult, error) {
	slots := c.table.SlotsFor(itemName)
	if len(slots) == 0 {
		return nil, fmt.Errorf("no slots mapped for item %q", itemName)
	}
	if quantity <= 0 {
		quantity = 1
	}

	c.mu.Lock()
	start := c.cursor[itemName]
	c.cursor[itemName] = (start + quantity) % len(slots)
	c.mu.Unlock()

	results := make([]UnitResult, 0, quantity)
	for unit := 0; unit < quantity; unit++ {
		slot := slots[(start+unit)%len(slots)]

		if c.monitor != nil {
			c.monitor.Start(slot, c.cfg.ConfirmTimeout, itemName)
		}

		err := c.trigger(ctx, slot)
		res := UnitResult{Slot: slot, Triggered: err == nil}
		if err != nil {
			res.Error = err.Error()
			if c.monitor != nil {
				c.monitor.Cancel(slot)
			}
			c.logger.Error("Slot activation failed",
				zap.Int("slot", slot),
				zap.String("item", itemName),
				zap.Error(err),
			)
		} else {
			c.logger.Info("Slot activated",
				zap.Int("slot", slot),
				zap.String("item", itemName),
				zap.Int("unit", unit+1),
				zap.Int("quantity", quantity),
			)
		}
		results = append(results, res)

		if unit < quantity-1 && c.cfg.InterUnitDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.cfg.InterUnitDelay):
			}
		}
	}
	return results, nil
}

// JogSlot holds one slot relay closed for the given duration, then
// releases it, for clearing a jammed spiral from the maintenance
// surface. The release is attempted even when the hold is cut short.
// Expansion slots pulse through the channel controller and have no
// holdable relay.
func (c *Coordinator) JogSlot(ctx context.Context, slot int, hold time.Duration) error {
	if slot < 1 || slot >= gpio.FirstExpansionSlot {
		return fmt.Errorf("slot %d has no holdable relay", slot)
	}
	if c.sender == nil {
		return fmt.Errorf("slot %d requires the actuator board but no sender is configured", slot)
	}

	if _, err := c.sender.Send(ctx, device.Open(slot), c.cfg.CommandTimeout, 1); err != nil {
		return fmt.Errorf("open slot %d: %w", slot, err)
	}
	c.logger.Info("Slot relay held for jog", zap.Int("slot", slot), zap.Duration("hold", hold))

	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		}
	}

	// Cancellation must not leave the relay stuck closed; the release
	// gets its own deadline when the caller's context is gone.
	closeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
		defer cancel()
	}
	if _, err := c.sender.Send(closeCtx, device.Close(slot), c.cfg.CommandTimeout, 1); err != nil {
		return fmt.Errorf("close slot %d: %w", slot, err)
	}
	return ctx.Err()
}

// trigger routes a single activation to the right transport
func (c *Coordinator) trigger(ctx context.Context, slot int) error {
	if slot >= gpio.FirstExpansionSlot && slot <= gpio.LastExpansionSlot {
		if c.pulser == nil {
			return fmt.Errorf("slot %d is on the expansion header but no channel controller is configured", slot)
		}
		return c.pulser.PulseChannel(slot, c.cfg.PulseDuration)
	}
	return c.pulseDirect(ctx, slot)
}

// pulseDirect fires a directly wired slot over the actuator board,
// with a best-effort status precheck and one retry of the pulse
func (c *Coordinator) pulseDirect(ctx context.Context, slot int) error {
	if c.sender == nil {
		return fmt.Errorf("slot %d requires the actuator board but no sender is configured", slot)
	}

	// Precheck is advisory only; the board answers STATUS even while a
	// motor is mid-swing, and a stale reading must not block a vend.
	if resp, err := c.sender.Send(ctx, device.CmdStatus, c.cfg.CommandTimeout, 1); err != nil {
		c.logger.Debug("Status precheck failed", zap.Int("slot", slot), zap.Error(err))
	} else if !strings.Contains(resp, "OK") {
		c.logger.Warn("Status precheck reported a fault",
			zap.Int("slot", slot),
			zap.String("response", resp),
		)
	}

	cmd := device.Pulse(slot, int(c.cfg.PulseDuration/time.Millisecond))

	resp, err := c.sender.Send(ctx, cmd, c.cfg.CommandTimeout, c.cfg.Retries)
	if err == nil && strings.Contains(resp, "OK") {
		return nil
	}

	// One deliberate re-issue: the board acks idempotently when the
	// first pulse actually landed but the ack was lost.
	resp, retryErr := c.sender.Send(ctx, cmd, c.cfg.CommandTimeout, 1)
	if retryErr == nil && strings.Contains(resp, "OK") {
		return nil
	}

	if err == nil {
		err = fmt.Errorf("board rejected pulse: %s", strings.TrimSpace(resp))
	}
	return fmt.Errorf("pulse slot %d: %w", slot, err)
}
