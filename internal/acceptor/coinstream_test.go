// internal/acceptor/coinstream_test.go
package acceptor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// fakeCoinLink stands in for a serial multiplexer
type fakeCoinLink struct {
	mu      sync.Mutex
	sent    []string
	coinSub func(model.CoinEvent, int)

	balance   int
	balanceAt time.Time
}

func (f *fakeCoinLink) SubscribeCoin(fn func(model.CoinEvent, int)) {
	f.coinSub = fn
}

func (f *fakeCoinLink) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeCoinLink) Balance() (int, time.Time, bool) {
	return f.balance, f.balanceAt, !f.balanceAt.IsZero()
}

func (f *fakeCoinLink) Connected() bool { return true }

// pushCoin simulates the hardware reporting a coin and its new total
func (f *fakeCoinLink) pushCoin(denom, hwTotal int) {
	f.coinSub(model.CoinEvent{Denomination: denom, Timestamp: time.Now()}, hwTotal)
}

func (f *fakeCoinLink) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestCoinStream(t *testing.T, cfg CoinStreamConfig) (*CoinStream, *fakeCoinLink) {
	t.Helper()
	link := &fakeCoinLink{}
	cs := NewCoinStream(link, cfg, zap.NewNop())
	t.Cleanup(func() { cs.Close() })
	require.NotNil(t, link.coinSub, "stream must subscribe to coin events")
	return cs, link
}

func TestCoinStream_AccumulatesFromHardwareTotal(t *testing.T) {
	cs, link := newTestCoinStream(t, CoinStreamConfig{})

	link.pushCoin(5, 5)
	link.pushCoin(10, 15)
	assert.Equal(t, 15, cs.ReceivedAmount())
}

func TestCoinStream_ResetRebasesWithoutTouchingHardware(t *testing.T) {
	cs, link := newTestCoinStream(t, CoinStreamConfig{})

	link.pushCoin(5, 20)
	require.Equal(t, 20, cs.ReceivedAmount())

	cs.ResetAmount()
	assert.Equal(t, 0, cs.ReceivedAmount())
	assert.NotContains(t, link.sentLines(), "RESET_BALANCE",
		"a local rebase must never mutate the shared hardware counter")

	// Hardware total keeps climbing; the adapter reports only the delta.
	link.pushCoin(1, 21)
	assert.Equal(t, 1, cs.ReceivedAmount())
}

func TestCoinStream_HardwareCounterGoingBackwardsRebases(t *testing.T) {
	cs, link := newTestCoinStream(t, CoinStreamConfig{})

	link.pushCoin(5, 50)
	cs.ResetAmount()

	// Power cycle: the hardware total restarts from zero.
	link.pushCoin(5, 5)
	assert.Equal(t, 5, cs.ReceivedAmount(), "amount must never go negative")
}

func TestCoinStream_CallbackReceivesRunningAmount(t *testing.T) {
	cs, link := newTestCoinStream(t, CoinStreamConfig{})

	var got []int
	cs.SetCallback(func(received int) { got = append(got, received) })

	link.pushCoin(1, 1)
	link.pushCoin(5, 6)
	assert.Equal(t, []int{1, 6}, got)
}

func TestCoinStream_ProgramsCoinValuesAtConstruction(t *testing.T) {
	_, link := newTestCoinStream(t, CoinStreamConfig{
		CoinValues: map[int]int{2: 5},
	})

	sent := link.sentLines()
	assert.Contains(t, sent, "SET_COIN_VALUE 2 5")
	assert.Contains(t, sent, "SET_OUTPUT 2")
}

func TestCoinStream_ResetHardwareBalance(t *testing.T) {
	cs, link := newTestCoinStream(t, CoinStreamConfig{})

	link.pushCoin(10, 10)
	require.NoError(t, cs.ResetHardwareBalance())
	assert.Contains(t, link.sentLines(), "RESET_BALANCE")
	assert.Equal(t, 0, cs.ReceivedAmount())
}
