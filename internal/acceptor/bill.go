// internal/acceptor/bill.go
package acceptor

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// Bill line grammars, most specific first
var (
	billInsertedPattern = regexp.MustCompile(`^BILL\s+INSERTED:\s*(\d+)$`)
	billCanonPattern    = regexp.MustCompile(`^BILL:(\d+)$`)
	billPulsesPattern   = regexp.MustCompile(`^PULSES:(\d+)$`)
	rawHexPattern       = regexp.MustCompile(`^[0-9A-Fa-f]{2}(?:\s+[0-9A-Fa-f]{2})*$`)
)

// pulseUnitValue is the bill value per validator pulse
const pulseUnitValue = 10

// BillConfig tunes the bill acceptor
type BillConfig struct {
	Port           string
	BaudRate       int
	DebounceWindow time.Duration // identical amount inside it is bounce
	RecentSize     int           // recent-event ring capacity
	DetectKeywords []string      // descriptor keywords for port auto-detect
}

// DefaultBillConfig returns the validator defaults
func DefaultBillConfig() BillConfig {
	return BillConfig{
		BaudRate:       9600,
		DebounceWindow: 300 * time.Millisecond,
		RecentSize:     16,
		DetectKeywords: []string{"CH340", "FTDI", "CP210", "USB"},
	}
}

// BillLink is the slice of a shared serial link the bill acceptor
// needs when riding a multiplexer instead of its own port.
type BillLink interface {
	SubscribeBill(fn func(line string, at time.Time))
}

// BillAcceptor parses the heterogeneous bill-insertion line formats
// with per-amount debouncing and keeps a bounded buffer of recent
// events. It either owns a dedicated serial port or subscribes to a
// shared multiplexer.
type BillAcceptor struct {
	cfg    BillConfig
	logger *zap.Logger

	stream io.ReadWriteCloser

	mu         sync.Mutex
	total      int
	recent     []model.BillEvent
	lastAmount int
	lastAt     time.Time
	callback   func(int)

	done      chan struct{}
	closeOnce sync.Once
}

// NewBillAcceptorOnLink creates the acceptor on a shared link
func NewBillAcceptorOnLink(billLink BillLink, cfg BillConfig, logger *zap.Logger) *BillAcceptor {
	ba := newBillAcceptor(cfg, logger)
	billLink.SubscribeBill(ba.ingestLine)
	return ba
}

// NewBillAcceptor creates the acceptor on its own serial port. If the
// configured port cannot be opened it scans available devices by
// descriptor keyword and takes the first that opens.
func NewBillAcceptor(cfg BillConfig, logger *zap.Logger) (*BillAcceptor, error) {
	ba := newBillAcceptor(cfg, logger)

	stream, err := openBillPort(cfg.Port, cfg.BaudRate)
	if err != nil {
		ba.logger.Warn("Configured bill port failed, scanning",
			zap.String("port", cfg.Port),
			zap.Error(err),
		)
		stream, err = autoDetectBillPort(cfg, ba.logger)
		if err != nil {
			return nil, fmt.Errorf("no bill validator port found: %w", err)
		}
	}

	ba.stream = stream
	go ba.readLoop()
	return ba, nil
}

func newBillAcceptor(cfg BillConfig, logger *zap.Logger) *BillAcceptor {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 300 * time.Millisecond
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 16
	}
	return &BillAcceptor{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "bill-acceptor")),
		done:   make(chan struct{}),
	}
}

// ReceivedAmount returns the bill total since the last reset
func (ba *BillAcceptor) ReceivedAmount() int {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.total
}

// ResetAmount zeroes the counter and forgets debounce state
func (ba *BillAcceptor) ResetAmount() {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.total = 0
	ba.lastAmount = 0
	ba.lastAt = time.Time{}
}

// SetCallback registers the per-bill listener
func (ba *BillAcceptor) SetCallback(fn func(int)) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.callback = fn
}

// Recent returns a copy of the recent-event buffer, newest last
func (ba *BillAcceptor) Recent() []model.BillEvent {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	out := make([]model.BillEvent, len(ba.recent))
	copy(out, ba.recent)
	return out
}

// Close stops the read loop and releases a dedicated port
func (ba *BillAcceptor) Close() error {
	var err error
	ba.closeOnce.Do(func() {
		close(ba.done)
		if ba.stream != nil {
			err = ba.stream.Close()
		}
	})
	return err
}

// ParseBillLine decodes one bill-protocol line into an amount.
// Raw-hex frames are recognized but not interpreted.
func ParseBillLine(line string) (amount int, ok bool) {
	line = strings.TrimSpace(line)

	if m := billInsertedPattern.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	if m := billCanonPattern.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	if m := billPulsesPattern.FindStringSubmatch(line); m != nil {
		n, err := strconv.Atoi(m[1])
		return n * pulseUnitValue, err == nil
	}
	return 0, false
}

// ingestLine parses, debounces, and accounts one inbound line
func (ba *BillAcceptor) ingestLine(line string, at time.Time) {
	amount, ok := ParseBillLine(line)
	if !ok {
		if rawHexPattern.MatchString(strings.TrimSpace(line)) {
			ba.logger.Debug("Raw validator frame ignored", zap.String("frame", line))
		} else {
			ba.logger.Debug("Unrecognized bill line dropped", zap.String("line", line))
		}
		return
	}

	ba.mu.Lock()
	if amount == ba.lastAmount && at.Sub(ba.lastAt) < ba.cfg.DebounceWindow {
		ba.mu.Unlock()
		ba.logger.Debug("Bill bounce discarded", zap.Int("amount", amount))
		return
	}
	ba.lastAmount = amount
	ba.lastAt = at
	ba.total += amount
	total := ba.total

	ev := model.BillEvent{Amount: amount, Timestamp: at}
	ba.recent = append(ba.recent, ev)
	if len(ba.recent) > ba.cfg.RecentSize {
		ba.recent = ba.recent[len(ba.recent)-ba.cfg.RecentSize:]
	}
	fn := ba.callback
	ba.mu.Unlock()

	ba.logger.Info("Bill accepted",
		zap.Int("amount", amount),
		zap.Int("total", total),
	)
	if fn != nil {
		fn(total)
	}
}

// readLoop consumes lines from a dedicated port
func (ba *BillAcceptor) readLoop() {
	reader := bufio.NewReader(ba.stream)
	for {
		select {
		case <-ba.done:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				ba.ingestLine(trimmed, time.Now())
			}
		}
		if err != nil {
			if err == io.EOF || err == io.ErrNoProgress {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			select {
			case <-ba.done:
				return
			default:
			}
			ba.logger.Warn("Bill port read error", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// openBillPort opens a validator port, choosing framing from the port
// name: USB bridge adapters run one stop bit, direct UART wiring needs
// two.
func openBillPort(path string, baud int) (io.ReadWriteCloser, error) {
	if path == "" {
		return nil, fmt.Errorf("no bill port configured")
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: stopBitsForPort(path),
		Parity:   serial.NoParity,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open bill port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

func stopBitsForPort(path string) serial.StopBits {
	lower := strings.ToLower(path)
	for _, marker := range []string{"ttyusb", "usbserial", "usbmodem", "ttyacm"} {
		if strings.Contains(lower, marker) {
			return serial.OneStopBit
		}
	}
	return serial.TwoStopBits
}

// autoDetectBillPort scans the attached serial devices and tries the
// ones whose descriptors match the configured keywords
func autoDetectBillPort(cfg BillConfig, logger *zap.Logger) (io.ReadWriteCloser, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	for _, p := range ports {
		if p.Name == cfg.Port || !p.IsUSB {
			continue
		}
		if !matchesKeyword(p, cfg.DetectKeywords) {
			continue
		}

		logger.Info("Trying candidate bill port",
			zap.String("port", p.Name),
			zap.String("product", p.Product),
		)
		stream, err := openBillPort(p.Name, cfg.BaudRate)
		if err == nil {
			return stream, nil
		}
		logger.Debug("Candidate port rejected", zap.String("port", p.Name), zap.Error(err))
	}
	return nil, fmt.Errorf("no candidate port matched keywords %v", cfg.DetectKeywords)
}

func matchesKeyword(p *enumerator.PortDetails, keywords []string) bool {
	descriptor := strings.ToUpper(p.Product + " " + p.VID + " " + p.PID)
	for _, kw := range keywords {
		if strings.Contains(descriptor, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}
