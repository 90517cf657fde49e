// internal/acceptor/pulse.go
package acceptor

import (
	"sync"

	"go.uber.org/zap"

	"kiosk-control/internal/gpio"
	"kiosk-control/internal/model"
)

// PulseAcceptor is the direct-pulse coin acceptor variant: a GPIO
// pulse line decoded locally instead of a textual protocol.
type PulseAcceptor struct {
	decoder *gpio.PulseDecoder
	logger  *zap.Logger

	mu       sync.Mutex
	total    int
	callback func(int)
}

// NewPulseAcceptor builds the acceptor around a pulse decoder and, if
// a line is given, starts watching it.
func NewPulseAcceptor(cfg gpio.PulseConfig, line gpio.Line, logger *zap.Logger) *PulseAcceptor {
	pa := &PulseAcceptor{
		logger: logger.With(zap.String("component", "pulse-acceptor")),
	}
	pa.decoder = gpio.NewPulseDecoder(cfg, pa.onCoin, logger)

	if line != nil {
		go pa.decoder.Watch(line)
	}
	return pa
}

// Decoder exposes the underlying pulse decoder, mainly so edges can be
// injected when no hardware line is attached.
func (pa *PulseAcceptor) Decoder() *gpio.PulseDecoder {
	return pa.decoder
}

// ReceivedAmount returns the amount received since the last reset
func (pa *PulseAcceptor) ReceivedAmount() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return pa.total
}

// ResetAmount zeroes the local counter
func (pa *PulseAcceptor) ResetAmount() {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.total = 0
}

// SetCallback registers the per-coin listener
func (pa *PulseAcceptor) SetCallback(fn func(int)) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.callback = fn
}

// Close stops the decoder
func (pa *PulseAcceptor) Close() error {
	pa.decoder.Stop()
	return nil
}

func (pa *PulseAcceptor) onCoin(ev model.CoinEvent) {
	pa.mu.Lock()
	pa.total += ev.Denomination
	total := pa.total
	fn := pa.callback
	pa.mu.Unlock()

	if fn != nil {
		fn(total)
	}
}
