// internal/gpio/coinpulse.go
package gpio

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// Pulse-width classification thresholds. These are calibrated against
// the installed acceptor hardware and are intentionally inverted
// relative to the naive expectation: the widest pulse is the smallest
// coin. Do not re-derive them.
const (
	onePesoMinWidth  = 45 * time.Millisecond // >= 45ms -> 1 peso
	fivePesoMinWidth = 30 * time.Millisecond // 30..45ms -> 5 pesos, below -> 10
)

// PulseConfig tunes the decoder's noise rejection and debouncing
type PulseConfig struct {
	MinWidth time.Duration // below this is electrical noise
	MaxWidth time.Duration // above this is a stuck line
	Debounce time.Duration // identical coins inside this window collapse
	MaxWait  time.Duration // bound on waiting for the rising edge
}

// DefaultPulseConfig returns the calibrated defaults
func DefaultPulseConfig() PulseConfig {
	return PulseConfig{
		MinWidth: 2 * time.Millisecond,
		MaxWidth: 150 * time.Millisecond,
		Debounce: 120 * time.Millisecond,
		MaxWait:  250 * time.Millisecond,
	}
}

// PulseDecoder converts raw GPIO edges on the coin acceptor's pulse
// line into coin denominations. Edge callbacks never block: widths are
// handed to a single evaluator goroutine so classification and
// debouncing stay off the edge path and strictly ordered.
type PulseDecoder struct {
	cfg    PulseConfig
	onCoin func(model.CoinEvent)
	logger *zap.Logger

	mu           sync.Mutex
	pending      bool
	pendingStart time.Time
	pendingTimer *time.Timer

	widths chan pulseSample

	lastMu     sync.Mutex
	lastDenom  int
	lastAccept time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type pulseSample struct {
	width time.Duration
	at    time.Time
}

// NewPulseDecoder creates a decoder delivering coin events to onCoin
func NewPulseDecoder(cfg PulseConfig, onCoin func(model.CoinEvent), logger *zap.Logger) *PulseDecoder {
	d := &PulseDecoder{
		cfg:    cfg,
		onCoin: onCoin,
		logger: logger.With(zap.String("component", "coin-pulse")),
		widths: make(chan pulseSample, 32),
		done:   make(chan struct{}),
	}
	go d.evaluate()
	return d
}

// Watch feeds edges from a GPIO line until Stop is called. The line
// must already be configured as an input.
func (d *PulseDecoder) Watch(line Line) {
	for {
		select {
		case <-d.done:
			return
		default:
		}

		if !line.WaitForEdge(500 * time.Millisecond) {
			continue
		}
		d.Edge(line.Read(), time.Now())
	}
}

// Stop shuts the decoder down
func (d *PulseDecoder) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// Edge records one level transition. rising is the level after the
// transition. The call never blocks.
func (d *PulseDecoder) Edge(rising bool, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !rising {
		// Falling edge starts a pulse; an unfinished previous pulse
		// is abandoned.
		if d.pendingTimer != nil {
			d.pendingTimer.Stop()
		}
		d.pending = true
		d.pendingStart = at
		d.pendingTimer = time.AfterFunc(d.cfg.MaxWait, d.abandonPending)
		return
	}

	if !d.pending {
		return
	}
	d.pending = false
	if d.pendingTimer != nil {
		d.pendingTimer.Stop()
		d.pendingTimer = nil
	}

	sample := pulseSample{width: at.Sub(d.pendingStart), at: at}
	select {
	case d.widths <- sample:
	default:
		d.logger.Warn("Pulse queue full, sample dropped")
	}
}

// abandonPending clears a falling edge whose rising edge never came
func (d *PulseDecoder) abandonPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.pending = false
		d.logger.Debug("Pulse abandoned, no rising edge within bound")
	}
}

// evaluate classifies queued pulse widths sequentially
func (d *PulseDecoder) evaluate() {
	for {
		select {
		case <-d.done:
			return
		case sample := <-d.widths:
			d.classify(sample)
		}
	}
}

func (d *PulseDecoder) classify(sample pulseSample) {
	if sample.width < d.cfg.MinWidth || sample.width > d.cfg.MaxWidth {
		// Noise or stuck line; rejected silently, never an error.
		d.logger.Debug("Pulse width rejected",
			zap.Duration("width", sample.width),
		)
		return
	}

	denom := classifyWidth(sample.width)

	d.lastMu.Lock()
	if denom == d.lastDenom && sample.at.Sub(d.lastAccept) < d.cfg.Debounce {
		d.lastMu.Unlock()
		d.logger.Debug("Duplicate pulse debounced", zap.Int("denomination", denom))
		return
	}
	d.lastDenom = denom
	d.lastAccept = sample.at
	d.lastMu.Unlock()

	d.logger.Info("Coin decoded",
		zap.Int("denomination", denom),
		zap.Duration("width", sample.width),
	)
	d.onCoin(model.CoinEvent{Denomination: denom, Timestamp: sample.at})
}

// classifyWidth maps a pulse width to a denomination
func classifyWidth(width time.Duration) int {
	switch {
	case width >= onePesoMinWidth:
		return 1
	case width >= fivePesoMinWidth:
		return 5
	default:
		return 10
	}
}
