// internal/link/multiplexer_test.go
package link

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// fakeStream is an in-memory serial device: the test writes inbound
// lines into the pipe, the multiplexer reads them.
type fakeStream struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	writes []string
}

func newFakeStream() *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{r: r, w: w}
}

func (f *fakeStream) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.r.Close()
	return f.w.Close()
}

func (f *fakeStream) emit(line string) {
	f.w.Write([]byte(line + "\n"))
}

func (f *fakeStream) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

func newTestRegistry(t *testing.T, stream io.ReadWriteCloser) *Registry {
	t.Helper()
	opener := func(path string, baud int) (io.ReadWriteCloser, error) {
		return stream, nil
	}
	return NewRegistry(opener, zap.NewNop())
}

func TestRegistry_OpenIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	reg := newTestRegistry(t, stream)
	defer reg.CloseAll()

	a := reg.Open("/dev/ttyUSB0", 115200)
	b := reg.Open("/dev/ttyUSB0", 115200)
	assert.Same(t, a, b, "same path and baud must return the same handle")
}

func TestRegistry_FailedOpenYieldsDisconnectedHandle(t *testing.T) {
	opener := func(path string, baud int) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	reg := NewRegistry(opener, zap.NewNop())
	defer reg.CloseAll()

	m := reg.Open("/dev/ttyUSB9", 115200)
	require.NotNil(t, m)
	assert.False(t, m.Connected())
	assert.Error(t, m.Send("STATUS"))

	status := reg.Status()
	assert.False(t, status["/dev/ttyUSB9@115200"])
}

func TestMultiplexer_FanOut(t *testing.T) {
	stream := newFakeStream()
	reg := newTestRegistry(t, stream)
	defer reg.CloseAll()

	m := reg.Open("/dev/ttyUSB0", 115200)
	require.True(t, m.Connected())

	var coinMu sync.Mutex
	var coins []model.CoinEvent
	var totals []int
	m.SubscribeCoin(func(ev model.CoinEvent, total int) {
		coinMu.Lock()
		coins = append(coins, ev)
		totals = append(totals, total)
		coinMu.Unlock()
	})

	var billMu sync.Mutex
	var billLines []string
	m.SubscribeBill(func(line string, at time.Time) {
		billMu.Lock()
		billLines = append(billLines, line)
		billMu.Unlock()
	})

	stream.emit("T1: 4.5C 62.0%")
	stream.emit("IR1: BLOCKED")
	stream.emit("[COIN] Accepted Value: 10 Total: 10")
	stream.emit("BALANCE: 10")
	stream.emit("BILL INSERTED: 50")
	stream.emit("random noise line")

	require.Eventually(t, func() bool {
		coinMu.Lock()
		defer coinMu.Unlock()
		return len(coins) == 1
	}, time.Second, 10*time.Millisecond)

	coinMu.Lock()
	assert.Equal(t, 10, coins[0].Denomination)
	assert.Equal(t, []int{10}, totals)
	coinMu.Unlock()

	require.Eventually(t, func() bool {
		billMu.Lock()
		defer billMu.Unlock()
		return len(billLines) == 1
	}, time.Second, 10*time.Millisecond)
	billMu.Lock()
	assert.Equal(t, "BILL INSERTED: 50", billLines[0])
	billMu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := m.Temperature("T1")
		return ok
	}, time.Second, 10*time.Millisecond)

	temp, ok := m.Temperature("T1")
	require.True(t, ok)
	assert.InDelta(t, 4.5, temp.Temperature, 0.001)

	ir, ok := m.IRState(1)
	require.True(t, ok)
	assert.True(t, ir.Blocked)

	balance, _, ok := m.Balance()
	require.True(t, ok)
	assert.Equal(t, 10, balance)
	assert.Equal(t, 10, m.CoinTotal())
}

func TestMultiplexer_SendAppendsNewline(t *testing.T) {
	stream := newFakeStream()
	reg := newTestRegistry(t, stream)
	defer reg.CloseAll()

	m := reg.Open("/dev/ttyUSB0", 115200)
	require.NoError(t, m.Send("GET_BALANCE"))
	require.NoError(t, m.Send("STATUS\n"))

	writes := stream.written()
	require.Len(t, writes, 2)
	assert.Equal(t, "GET_BALANCE\n", writes[0])
	assert.Equal(t, "STATUS\n", writes[1])
}

func TestMultiplexer_SendAfterCloseFails(t *testing.T) {
	stream := newFakeStream()
	reg := newTestRegistry(t, stream)

	m := reg.Open("/dev/ttyUSB0", 115200)
	require.NoError(t, m.Close())
	assert.Error(t, m.Send("STATUS"))
	assert.False(t, m.Connected())
}
