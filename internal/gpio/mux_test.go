// internal/gpio/mux_test.go
package gpio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLine is an in-memory Line recording every level it is driven to
type fakeLine struct {
	mu     sync.Mutex
	level  bool
	levels []bool
	output bool
}

func (l *fakeLine) Output() error { l.output = true; return nil }
func (l *fakeLine) Input() error  { l.output = false; return nil }

func (l *fakeLine) Set(high bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = high
	l.levels = append(l.levels, high)
	return nil
}

func (l *fakeLine) Read() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *fakeLine) WaitForEdge(timeout time.Duration) bool { return false }

func (l *fakeLine) history() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.levels))
	copy(out, l.levels)
	return out
}

func newTestController(t *testing.T) (*ChannelController, [4]*fakeLine, *fakeLine) {
	t.Helper()
	var fakes [4]*fakeLine
	var selectors [4]Line
	for i := range fakes {
		fakes[i] = &fakeLine{}
		selectors[i] = fakes[i]
	}
	signal := &fakeLine{}

	ctl, err := NewChannelController(selectors, signal, zap.NewNop())
	require.NoError(t, err)
	return ctl, fakes, signal
}

func TestNewChannelController_ParksAtChannelZeroSignalLow(t *testing.T) {
	_, selectors, signal := newTestController(t)

	for i, line := range selectors {
		assert.True(t, line.output, "selector %d must be an output", i)
		assert.False(t, line.Read(), "selector %d must be low for channel 0", i)
	}
	assert.True(t, signal.output)
	assert.False(t, signal.Read())
}

func TestSelectChannel_BinaryEncoding(t *testing.T) {
	tests := []struct {
		channel int
		want    [4]bool // bit 0 on the first line
	}{
		{0, [4]bool{false, false, false, false}},
		{1, [4]bool{true, false, false, false}},
		{5, [4]bool{true, false, true, false}},
		{10, [4]bool{false, true, false, true}},
		{15, [4]bool{true, true, true, true}},
	}

	for _, tt := range tests {
		ctl, selectors, _ := newTestController(t)
		require.NoError(t, ctl.SelectChannel(tt.channel))
		for i, want := range tt.want {
			assert.Equal(t, want, selectors[i].Read(),
				"channel %d selector line %d", tt.channel, i)
		}
	}
}

func TestSelectChannel_RangeChecked(t *testing.T) {
	ctl, _, _ := newTestController(t)
	assert.Error(t, ctl.SelectChannel(-1))
	assert.Error(t, ctl.SelectChannel(16))
}

func TestPulseChannel_MapsSlotToChannel(t *testing.T) {
	tests := []struct {
		slot        int
		wantChannel [4]bool
	}{
		{49, [4]bool{false, false, false, false}}, // first expansion slot -> channel 0
		{50, [4]bool{true, false, false, false}},
		{64, [4]bool{true, true, true, true}}, // last expansion slot -> channel 15
	}

	for _, tt := range tests {
		ctl, selectors, signal := newTestController(t)
		require.NoError(t, ctl.PulseChannel(tt.slot, time.Millisecond))

		for i, want := range tt.wantChannel {
			assert.Equal(t, want, selectors[i].Read(), "slot %d selector %d", tt.slot, i)
		}

		// The signal line must have gone high then back low.
		history := signal.history()
		require.GreaterOrEqual(t, len(history), 3)
		assert.True(t, history[len(history)-2], "signal must be raised for the pulse")
		assert.False(t, history[len(history)-1], "signal must be parked low afterwards")
		assert.False(t, signal.Read())
	}
}

func TestPulseChannel_RejectsNonExpansionSlots(t *testing.T) {
	ctl, _, _ := newTestController(t)
	assert.Error(t, ctl.PulseChannel(1, time.Millisecond))
	assert.Error(t, ctl.PulseChannel(48, time.Millisecond))
	assert.Error(t, ctl.PulseChannel(65, time.Millisecond))
}

func TestReadbackSignal_RestoresOutputLow(t *testing.T) {
	ctl, _, signal := newTestController(t)

	signal.mu.Lock()
	signal.level = true
	signal.mu.Unlock()

	level, err := ctl.ReadbackSignal()
	require.NoError(t, err)
	assert.True(t, level)
	assert.True(t, signal.output, "signal must be restored as an output")
	assert.False(t, signal.Read(), "signal must be parked low")
}
