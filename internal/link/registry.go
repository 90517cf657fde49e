// internal/link/registry.go
package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PortOpener opens the underlying byte stream for a multiplexer.
// The default opener uses go.bug.st/serial; tests inject fakes.
type PortOpener func(path string, baud int) (io.ReadWriteCloser, error)

// Registry hands out the single live Multiplexer per physical serial path.
// It replaces global lookup: callers receive the registry via injection and
// own its lifetime.
type Registry struct {
	opener PortOpener
	logger *zap.Logger
	mu     sync.Mutex
	links  map[string]*Multiplexer
}

// NewRegistry creates a multiplexer registry. A nil opener selects the
// real serial port opener.
func NewRegistry(opener PortOpener, logger *zap.Logger) *Registry {
	if opener == nil {
		opener = openSerialPort
	}
	return &Registry{
		opener: opener,
		logger: logger,
		links:  make(map[string]*Multiplexer),
	}
}

// Open returns the multiplexer owning the given port. The call is
// idempotent: repeated opens of the same path+baud return the same
// handle, so there are never two live handles on one physical device.
// A handle whose initial open failed is returned anyway, permanently
// marked disconnected; callers must tolerate empty reads from it.
func (r *Registry) Open(path string, baud int) *Multiplexer {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s@%d", path, baud)
	if m, ok := r.links[key]; ok {
		return m
	}

	m := newMultiplexer(path, baud, r.opener, r.logger)
	r.links[key] = m
	return m
}

// Status reports the connection state of every open link, keyed by
// "path@baud".
func (r *Registry) Status() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]bool, len(r.links))
	for key, m := range r.links {
		out[key] = m.Connected()
	}
	return out
}

// CloseAll closes every multiplexer the registry has handed out.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, m := range r.links {
		if err := m.Close(); err != nil {
			r.logger.Warn("Failed to close serial link",
				zap.String("link", key),
				zap.Error(err),
			)
		}
		delete(r.links, key)
	}
}

// openSerialPort is the production opener backed by go.bug.st/serial
func openSerialPort(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}
