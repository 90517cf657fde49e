// internal/gpio/mux.go
package gpio

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Slot numbers 49..64 are served by the expansion multiplexer board
// instead of the remote actuator.
const (
	FirstExpansionSlot = 49
	LastExpansionSlot  = 64
	ExpansionChannels  = 16
)

// settleDelay is the time the 4051-style selector needs after the
// address lines change before the signal line may be driven.
const settleDelay = 10 * time.Millisecond

// ChannelController drives a 4-line binary selector plus one shared
// signal line to address 16 extra physical dispensing channels.
type ChannelController struct {
	selectors [4]Line
	signal    Line
	logger    *zap.Logger

	mu      sync.Mutex
	current int
}

// NewChannelController configures the selector and signal lines as
// outputs, parked at channel 0 with the signal low.
func NewChannelController(selectors [4]Line, signal Line, logger *zap.Logger) (*ChannelController, error) {
	c := &ChannelController{
		selectors: selectors,
		signal:    signal,
		logger:    logger.With(zap.String("component", "channel-mux")),
		current:   -1,
	}

	for i, line := range selectors {
		if err := line.Output(); err != nil {
			return nil, fmt.Errorf("selector line %d: %w", i, err)
		}
	}
	if err := signal.Output(); err != nil {
		return nil, fmt.Errorf("signal line: %w", err)
	}
	if err := signal.Set(false); err != nil {
		return nil, fmt.Errorf("signal line: %w", err)
	}
	if err := c.SelectChannel(0); err != nil {
		return nil, err
	}
	return c, nil
}

// SelectChannel drives the selector lines to the channel's binary
// encoding, bit 0 on the first line.
func (c *ChannelController) SelectChannel(channel int) error {
	if channel < 0 || channel >= ExpansionChannels {
		return fmt.Errorf("channel %d out of range 0..%d", channel, ExpansionChannels-1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectLocked(channel)
}

func (c *ChannelController) selectLocked(channel int) error {
	for i, line := range c.selectors {
		if err := line.Set(channel&(1<<i) != 0); err != nil {
			return fmt.Errorf("failed to select channel %d: %w", channel, err)
		}
	}
	c.current = channel
	return nil
}

// PulseChannel selects the channel serving the given expansion slot,
// waits for the selector to settle, and drives the signal line high
// for the requested duration. The call blocks for the full pulse.
func (c *ChannelController) PulseChannel(slot int, duration time.Duration) error {
	if slot < FirstExpansionSlot || slot > LastExpansionSlot {
		return fmt.Errorf("slot %d outside expansion range %d..%d",
			slot, FirstExpansionSlot, LastExpansionSlot)
	}
	channel := (slot - FirstExpansionSlot) % ExpansionChannels

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectLocked(channel); err != nil {
		return err
	}
	time.Sleep(settleDelay)

	if err := c.signal.Set(true); err != nil {
		return fmt.Errorf("failed to raise signal line: %w", err)
	}
	time.Sleep(duration)
	if err := c.signal.Set(false); err != nil {
		return fmt.Errorf("failed to lower signal line: %w", err)
	}

	c.logger.Info("Expansion slot pulsed",
		zap.Int("slot", slot),
		zap.Int("channel", channel),
		zap.Duration("duration", duration),
	)
	return nil
}

// PulseChannelAsync runs the same select/settle/pulse sequence off the
// caller's path, reporting the outcome through done if non-nil.
func (c *ChannelController) PulseChannelAsync(slot int, duration time.Duration, done func(error)) {
	go func() {
		err := c.PulseChannel(slot, duration)
		if err != nil {
			c.logger.Error("Async channel pulse failed",
				zap.Int("slot", slot),
				zap.Error(err),
			)
		}
		if done != nil {
			done(err)
		}
	}()
}

// ReadbackSignal temporarily reconfigures the signal line as an input,
// samples it, and restores it as a low output. Diagnostic use only.
func (c *ChannelController) ReadbackSignal() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.signal.Input(); err != nil {
		return false, fmt.Errorf("failed to reconfigure signal for readback: %w", err)
	}
	level := c.signal.Read()

	if err := c.signal.Output(); err != nil {
		return level, fmt.Errorf("failed to restore signal as output: %w", err)
	}
	if err := c.signal.Set(false); err != nil {
		return level, fmt.Errorf("failed to park signal low: %w", err)
	}
	return level, nil
}
