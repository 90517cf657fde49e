// internal/acceptor/coinstream.go
package acceptor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// Textual coin-protocol commands
const (
	cmdGetBalance   = "GET_BALANCE"
	cmdResetBalance = "RESET_BALANCE"
)

// defaultBalancePoll keeps the total fresh between coin events
const defaultBalancePoll = 2 * time.Second

// CoinLink is the slice of a serial link the coin stream adapter
// needs. *link.Multiplexer satisfies it; a dedicated link is simply a
// multiplexer nobody else shares.
type CoinLink interface {
	SubscribeCoin(fn func(model.CoinEvent, int))
	Send(line string) error
	Balance() (int, time.Time, bool)
	Connected() bool
}

// CoinStreamConfig tunes the textual coin acceptor
type CoinStreamConfig struct {
	// CoinValues maps acceptor output channels (1..6) to coin values;
	// applied to the hardware at construction when non-empty.
	CoinValues map[int]int

	// PollBalance enables the periodic GET_BALANCE poll
	PollBalance  bool
	PollInterval time.Duration
}

// CoinStream adapts the textual coin protocol to the Acceptor
// interface. It keeps a baseline offset against the hardware's running
// total so ResetAmount rebases locally without mutating shared
// counters.
type CoinStream struct {
	link   CoinLink
	cfg    CoinStreamConfig
	logger *zap.Logger

	mu       sync.Mutex
	hwTotal  int
	baseline int
	callback func(int)

	pollSuspended atomic.Bool
	done          chan struct{}
	closeOnce     sync.Once
}

// NewCoinStream creates the adapter on a dedicated or shared link
func NewCoinStream(coinLink CoinLink, cfg CoinStreamConfig, logger *zap.Logger) *CoinStream {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultBalancePoll
	}

	cs := &CoinStream{
		link:   coinLink,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "coin-stream")),
		done:   make(chan struct{}),
	}

	cs.applyCoinValues()
	coinLink.SubscribeCoin(cs.onCoin)

	if cfg.PollBalance {
		go cs.pollLoop()
	}
	return cs
}

// ReceivedAmount returns the amount received since the last rebase
func (cs *CoinStream) ReceivedAmount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.receivedLocked()
}

func (cs *CoinStream) receivedLocked() int {
	if cs.hwTotal < cs.baseline {
		// Hardware counter went backwards (power cycle or remote
		// RESET_BALANCE); rebase so the amount never goes negative.
		cs.baseline = cs.hwTotal
	}
	return cs.hwTotal - cs.baseline
}

// ResetAmount rebases the local counter; the hardware total is left
// untouched
func (cs *CoinStream) ResetAmount() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.baseline = cs.hwTotal
}

// SetCallback registers the per-event listener
func (cs *CoinStream) SetCallback(fn func(int)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.callback = fn
}

// Close stops the balance poll; the link stays open for its owner
func (cs *CoinStream) Close() error {
	cs.closeOnce.Do(func() { close(cs.done) })
	return nil
}

// SuspendPolling pauses the GET_BALANCE poll so an exclusive
// conversation (the hopper's) can own the shared link
func (cs *CoinStream) SuspendPolling() {
	cs.pollSuspended.Store(true)
}

// ResumePolling re-enables the balance poll
func (cs *CoinStream) ResumePolling() {
	cs.pollSuspended.Store(false)
}

// ResetHardwareBalance zeroes the hardware's own counter. Only safe
// when no other adapter shares the counter.
func (cs *CoinStream) ResetHardwareBalance() error {
	if err := cs.link.Send(cmdResetBalance); err != nil {
		return fmt.Errorf("reset balance: %w", err)
	}
	cs.mu.Lock()
	cs.hwTotal = 0
	cs.baseline = 0
	cs.mu.Unlock()
	return nil
}

// applyCoinValues programs the acceptor's output channels
func (cs *CoinStream) applyCoinValues() {
	for output, value := range cs.cfg.CoinValues {
		if err := cs.link.Send(fmt.Sprintf("SET_COIN_VALUE %d %d", output, value)); err != nil {
			cs.logger.Warn("Failed to program coin value",
				zap.Int("output", output),
				zap.Int("value", value),
				zap.Error(err),
			)
			continue
		}
		if err := cs.link.Send(fmt.Sprintf("SET_OUTPUT %d", output)); err != nil {
			cs.logger.Warn("Failed to enable acceptor output",
				zap.Int("output", output),
				zap.Error(err),
			)
		}
	}
}

// onCoin ingests a pushed coin event and the hardware running total
func (cs *CoinStream) onCoin(ev model.CoinEvent, hwTotal int) {
	cs.mu.Lock()
	cs.hwTotal = hwTotal
	received := cs.receivedLocked()
	fn := cs.callback
	cs.mu.Unlock()

	cs.logger.Info("Coin received",
		zap.Int("denomination", ev.Denomination),
		zap.Int("received", received),
	)
	if fn != nil {
		fn(received)
	}
}

// pollLoop keeps the total fresh between events via GET_BALANCE
func (cs *CoinStream) pollLoop() {
	ticker := time.NewTicker(cs.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.done:
			return
		case <-ticker.C:
			if cs.pollSuspended.Load() || !cs.link.Connected() {
				continue
			}
			if err := cs.link.Send(cmdGetBalance); err != nil {
				cs.logger.Debug("Balance poll failed", zap.Error(err))
				continue
			}
			// The response arrives through the link's read loop;
			// give it a moment before sampling.
			time.Sleep(200 * time.Millisecond)
			cs.absorbBalance()
		}
	}
}

// absorbBalance folds the link's last balance report into the total
func (cs *CoinStream) absorbBalance() {
	balance, at, ok := cs.link.Balance()
	if !ok || time.Since(at) > cs.cfg.PollInterval*2 {
		return
	}

	cs.mu.Lock()
	changed := balance > cs.hwTotal
	if changed {
		cs.hwTotal = balance
	}
	received := cs.receivedLocked()
	fn := cs.callback
	cs.mu.Unlock()

	if changed && fn != nil {
		fn(received)
	}
}
