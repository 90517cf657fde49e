// internal/device/client.go
package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// TransportKind selects how a target is reached
type TransportKind string

const (
	TransportTCP    TransportKind = "TCP"
	TransportSerial TransportKind = "SERIAL"
)

// DefaultTCPPort is the actuator's default listening port
const DefaultTCPPort = 5000

// DefaultSerialBaud is the actuator's serial line rate
const DefaultSerialBaud = 115200

// retryBackoff is the fixed pause between attempts
const retryBackoff = 150 * time.Millisecond

// Target identifies one remote actuator endpoint
type Target struct {
	Kind TransportKind `json:"kind"`

	// TCP transport
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// EphemeralFallback retries a failed cached-socket exchange once
	// more over a throwaway connection within the same attempt.
	EphemeralFallback bool `json:"ephemeral_fallback,omitempty"`

	// Serial transport
	SerialPath string `json:"serial_path,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
}

func (t Target) key() string {
	if t.Kind == TransportSerial {
		return fmt.Sprintf("serial:%s", t.SerialPath)
	}
	return fmt.Sprintf("tcp:%s:%d", t.Host, t.Port)
}

func (t Target) String() string { return t.key() }

// Dialer opens a TCP connection; injected for tests
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// SerialDialer opens a serial stream for one exchange; injected for tests
type SerialDialer func(path string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// cachedConn pairs a live TCP connection with its buffered reader so
// read-ahead survives across calls
type cachedConn struct {
	conn net.Conn
	r    *bufio.Reader
}

// Client is the request/response protocol client to the remote
// actuator. TCP targets keep one cached socket each and reuse it; on
// any error or timeout the cached socket is discarded so the next
// attempt reconnects. Serial targets open and close the port per call.
type Client struct {
	logger     *zap.Logger
	dial       Dialer
	dialSerial SerialDialer

	mu    sync.Mutex
	conns map[string]*cachedConn
}

// NewClient creates an actuator client. Nil dialers select the real
// network and serial implementations.
func NewClient(logger *zap.Logger, dial Dialer, dialSerial SerialDialer) *Client {
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if dialSerial == nil {
		dialSerial = openSerialStream
	}
	return &Client{
		logger:     logger.With(zap.String("component", "device-client")),
		dial:       dial,
		dialSerial: dialSerial,
		conns:      make(map[string]*cachedConn),
	}
}

// Send issues one command and waits for the single-line response.
// It makes exactly `retries` attempts with a short fixed backoff in
// between; once they are exhausted it returns ErrTransport when no
// link could be established or ErrProtocolTimeout when the device did
// not answer. A timeout is an unknown outcome: the physical action may
// still have happened.
func (c *Client) Send(ctx context.Context, target Target, command string, timeout time.Duration, retries int) (string, error) {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var resp string
		var err error
		switch target.Kind {
		case TransportSerial:
			resp, err = c.exchangeSerial(target, command, timeout)
		default:
			resp, err = c.exchangeTCP(ctx, target, command, timeout)
		}

		if err == nil {
			c.logger.Debug("Actuator exchange completed",
				zap.String("target", target.key()),
				zap.String("command", command),
				zap.String("response", resp),
				zap.Int("attempt", attempt),
			)
			return resp, nil
		}

		lastErr = err
		c.logger.Warn("Actuator exchange failed",
			zap.String("target", target.key()),
			zap.String("command", command),
			zap.Int("attempt", attempt),
			zap.Int("retries", retries),
			zap.Error(err),
		)

		if attempt < retries {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("command %q to %s failed after %d attempts: %w",
		command, target.key(), retries, lastErr)
}

// Bind returns a sender with the target fixed, for callers owning one
// device
func (c *Client) Bind(target Target) *BoundSender {
	return &BoundSender{client: c, target: target}
}

// BoundSender is a Client fixed to one target
type BoundSender struct {
	client *Client
	target Target
}

// Send issues a command to the bound target
func (s *BoundSender) Send(ctx context.Context, command string, timeout time.Duration, retries int) (string, error) {
	return s.client.Send(ctx, s.target, command, timeout, retries)
}

// Target returns the bound endpoint
func (s *BoundSender) Target() Target { return s.target }

// exchangeTCP performs one write/read over the cached socket,
// optionally falling back to an ephemeral connection in the same call
func (c *Client) exchangeTCP(ctx context.Context, target Target, command string, timeout time.Duration) (string, error) {
	cc, err := c.cachedOrDial(ctx, target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := exchangeConn(cc, command, timeout)
	if err == nil {
		return resp, nil
	}

	// The cached socket is poisoned; drop it so the next attempt
	// reconnects.
	c.discard(target)

	if target.EphemeralFallback {
		if resp, fbErr := c.exchangeEphemeral(ctx, target, command, timeout); fbErr == nil {
			return resp, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrProtocolTimeout, err)
}

// exchangeEphemeral dials a throwaway connection for a single exchange
func (c *Client) exchangeEphemeral(ctx context.Context, target Target, command string, timeout time.Duration) (string, error) {
	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer conn.Close()

	cc := &cachedConn{conn: conn, r: bufio.NewReader(conn)}
	resp, err := exchangeConn(cc, command, timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolTimeout, err)
	}
	return resp, nil
}

// cachedOrDial returns the live cached connection for the target or
// dials a new one and caches it
func (c *Client) cachedOrDial(ctx context.Context, target Target) (*cachedConn, error) {
	c.mu.Lock()
	if cc, ok := c.conns[target.key()]; ok {
		c.mu.Unlock()
		return cc, nil
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	cc := &cachedConn{conn: conn, r: bufio.NewReader(conn)}
	c.mu.Lock()
	c.conns[target.key()] = cc
	c.mu.Unlock()

	c.logger.Info("Actuator connection established", zap.String("target", target.key()))
	return cc, nil
}

// discard closes and forgets the cached connection for a target
func (c *Client) discard(target Target) {
	c.mu.Lock()
	cc, ok := c.conns[target.key()]
	if ok {
		delete(c.conns, target.key())
	}
	c.mu.Unlock()

	if ok {
		cc.conn.Close()
	}
}

// CloseAll drops every cached connection
func (c *Client) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cc := range c.conns {
		cc.conn.Close()
		delete(c.conns, key)
	}
}

// exchangeConn writes one command line and reads one response line
func exchangeConn(cc *cachedConn, command string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if err := cc.conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	if _, err := cc.conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("write failed: %w", err)
	}

	line, err := cc.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// exchangeSerial opens the serial port, performs one exchange, and
// closes the port again
func (c *Client) exchangeSerial(target Target, command string, timeout time.Duration) (string, error) {
	baud := target.BaudRate
	if baud == 0 {
		baud = DefaultSerialBaud
	}

	stream, err := c.dialSerial(target.SerialPath, baud, 100*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer stream.Close()

	if _, err := stream.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("%w: write failed: %v", ErrTransport, err)
	}

	line, err := readLineDeadline(stream, time.Now().Add(timeout))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolTimeout, err)
	}
	return strings.TrimSpace(line), nil
}

// readLineDeadline accumulates bytes until a newline or the deadline.
// The stream's own read timeout slices the wait so the deadline is
// honored even when no data arrives.
func readLineDeadline(r io.Reader, deadline time.Time) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 64)

	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				if b == '\n' {
					return sb.String(), nil
				}
				sb.WriteByte(b)
			}
		}
		if err != nil && err != io.EOF {
			return "", err
		}
		if err == io.EOF && n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return "", fmt.Errorf("no response line before deadline")
}

// openSerialStream is the production serial dialer
func openSerialStream(path string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
