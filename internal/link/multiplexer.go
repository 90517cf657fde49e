// internal/link/multiplexer.go
package link

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// Multiplexer owns exclusive access to one physical serial device and
// fans inbound telemetry lines out to subscribers. One background
// goroutine runs the read loop; it never exits because of a malformed
// line. All writes to the device go through Send, so there is exactly
// one writer on the link at a time.
type Multiplexer struct {
	path   string
	baud   int
	logger *zap.Logger

	stream io.ReadWriteCloser

	mu        sync.RWMutex
	connected bool
	closed    bool

	writeMu sync.Mutex

	// latest values for pull access
	temps     map[string]model.TemperatureReading
	irStates  map[int]model.SensorReading
	balance   int
	balanceAt time.Time
	coinTotal int

	coinSubs []func(model.CoinEvent, int)
	billSubs []func(string, time.Time)
	irSubs   []func(model.SensorReading)

	done chan struct{}
}

func newMultiplexer(path string, baud int, opener PortOpener, logger *zap.Logger) *Multiplexer {
	m := &Multiplexer{
		path: path,
		baud: baud,
		logger: logger.With(
			zap.String("component", "serial-link"),
			zap.String("port", path),
			zap.Int("baud", baud),
		),
		temps:    make(map[string]model.TemperatureReading),
		irStates: make(map[int]model.SensorReading),
		done:     make(chan struct{}),
	}

	stream, err := opener(path, baud)
	if err != nil {
		// Permanently disconnected: callers get empty reads and
		// failed sends, never a second open attempt on this handle.
		m.logger.Error("Failed to open serial link", zap.Error(err))
		close(m.done)
		return m
	}

	m.stream = stream
	m.connected = true
	m.logger.Info("Serial link opened")

	go m.readLoop()
	return m
}

// Connected reports whether the underlying device is usable
func (m *Multiplexer) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Close shuts down the read loop and releases the port
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasConnected := m.connected
	m.connected = false
	stream := m.stream
	m.mu.Unlock()

	if !wasConnected {
		return nil
	}

	close(m.done)
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close serial link: %w", err)
	}
	return nil
}

// Send writes one newline-terminated command to the device
func (m *Multiplexer) Send(line string) error {
	m.mu.RLock()
	connected := m.connected
	stream := m.stream
	m.mu.RUnlock()

	if !connected {
		return fmt.Errorf("serial link %s not connected", m.path)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := stream.Write([]byte(line)); err != nil {
		return fmt.Errorf("serial link write failed: %w", err)
	}
	return nil
}

// SubscribeCoin registers a push callback for coin lines. The callback
// receives the decoded event and the hardware's own running total.
func (m *Multiplexer) SubscribeCoin(fn func(model.CoinEvent, int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coinSubs = append(m.coinSubs, fn)
}

// SubscribeBill registers a push callback for raw bill lines. Parsing
// the heterogeneous bill formats is the bill parser's job, so the line
// is forwarded verbatim.
func (m *Multiplexer) SubscribeBill(fn func(string, time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.billSubs = append(m.billSubs, fn)
}

// SubscribeIR registers a push callback for infrared state transitions
func (m *Multiplexer) SubscribeIR(fn func(model.SensorReading)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.irSubs = append(m.irSubs, fn)
}

// Temperature returns the latest reading for a telemetry label
func (m *Multiplexer) Temperature(label string) (model.TemperatureReading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.temps[label]
	return r, ok
}

// IRState returns the latest state of one infrared sensor
func (m *Multiplexer) IRState(sensor int) (model.SensorReading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.irStates[sensor]
	return r, ok
}

// Balance returns the last reported acceptor balance and its age
func (m *Multiplexer) Balance() (int, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance, m.balanceAt, !m.balanceAt.IsZero()
}

// CoinTotal returns the hardware's running coin total
func (m *Multiplexer) CoinTotal() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coinTotal
}

// readLoop continuously reads lines and dispatches them. Malformed
// lines are dropped; read errors back off and retry until Close.
func (m *Multiplexer) readLoop() {
	reader := bufio.NewReader(m.stream)

	for {
		select {
		case <-m.done:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				m.dispatch(trimmed)
			}
		}

		if err != nil {
			if err == io.EOF || err == io.ErrNoProgress {
				// Read timeout with no pending data; keep polling.
				time.Sleep(50 * time.Millisecond)
				continue
			}
			select {
			case <-m.done:
				return
			default:
			}
			m.logger.Warn("Serial link read error", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// dispatch classifies one line and routes it. First match wins;
// unmatched lines are dropped at debug level.
func (m *Multiplexer) dispatch(line string) {
	now := time.Now()

	switch parsed := classifyLine(line, now).(type) {
	case model.TemperatureReading:
		m.mu.Lock()
		m.temps[parsed.Label] = parsed
		m.mu.Unlock()

	case model.SensorReading:
		m.mu.Lock()
		m.irStates[parsed.Sensor] = parsed
		subs := append([]func(model.SensorReading){}, m.irSubs...)
		m.mu.Unlock()
		for _, fn := range subs {
			fn(parsed)
		}

	case coinLine:
		m.mu.Lock()
		m.coinTotal = parsed.total
		subs := append([]func(model.CoinEvent, int){}, m.coinSubs...)
		m.mu.Unlock()
		ev := model.CoinEvent{Denomination: parsed.value, Timestamp: now}
		for _, fn := range subs {
			fn(ev, parsed.total)
		}

	case balanceLine:
		m.mu.Lock()
		m.balance = parsed.amount
		m.balanceAt = now
		m.mu.Unlock()

	case billLine:
		m.mu.RLock()
		subs := append([]func(string, time.Time){}, m.billSubs...)
		m.mu.RUnlock()
		for _, fn := range subs {
			fn(line, now)
		}

	default:
		m.logger.Debug("Unclassified serial line dropped", zap.String("line", line))
	}
}
