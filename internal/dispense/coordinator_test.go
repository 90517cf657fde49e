// internal/dispense/coordinator_test.go
package dispense

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// fakeSender records actuator commands and answers from a script
type fakeSender struct {
	mu       sync.Mutex
	commands []string
	respond  func(command string) (string, error)
}

func (f *fakeSender) Send(ctx context.Context, command string, timeout time.Duration, retries int) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(command)
	}
	return "OK", nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// pulses of the sent commands only, precheck noise stripped
func (f *fakeSender) pulses() []string {
	var out []string
	for _, cmd := range f.sent() {
		if strings.HasPrefix(cmd, "PULSE") {
			out = append(out, cmd)
		}
	}
	return out
}

// fakePulser records expansion-header activations
type fakePulser struct {
	mu    sync.Mutex
	slots []int
	err   error
}

func (f *fakePulser) PulseChannel(slot int, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, slot)
	return f.err
}

func fastCoordinatorConfig() CoordinatorConfig {
	cfg := DefaultCoordinatorConfig()
	cfg.InterUnitDelay = 0
	return cfg
}

func newTestCoordinator(table model.SlotTable, sender SlotSender, pulser Pulser) *Coordinator {
	return NewCoordinator(table, sender, pulser, nil, fastCoordinatorConfig(), zap.NewNop())
}

func TestDispense_UnknownItemFails(t *testing.T) {
	c := newTestCoordinator(model.StaticSlotTable{}, &fakeSender{}, nil)

	_, err := c.Dispense(context.Background(), "ghost", 1)
	assert.Error(t, err)
}

func TestDispense_SingleUnit(t *testing.T) {
	sender := &fakeSender{}
	table := model.StaticSlotTable{"cola": {3}}
	c := newTestCoordinator(table, sender, nil)

	results, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Slot)
	assert.True(t, results[0].Triggered)

	pulses := sender.pulses()
	require.Len(t, pulses, 1)
	assert.True(t, strings.HasPrefix(pulses[0], "PULSE 3 "), "got %q", pulses[0])
}

func TestDispense_RoundRobinAcrossCalls(t *testing.T) {
	sender := &fakeSender{}
	table := model.StaticSlotTable{"cola": {3, 4}}
	c := newTestCoordinator(table, sender, nil)

	r1, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)
	r2, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)
	r3, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)

	assert.Equal(t, 3, r1[0].Slot)
	assert.Equal(t, 4, r2[0].Slot)
	assert.Equal(t, 3, r3[0].Slot, "cursor wraps around the slot list")
}

func TestDispense_MultiUnitRotatesWithinCall(t *testing.T) {
	sender := &fakeSender{}
	table := model.StaticSlotTable{"cola": {3, 4}}
	c := newTestCoordinator(table, sender, nil)

	results, err := c.Dispense(context.Background(), "cola", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, results[0].Slot)
	assert.Equal(t, 4, results[1].Slot)
	assert.Equal(t, 3, results[2].Slot)
}

func TestDispense_ZeroQuantityMeansOne(t *testing.T) {
	sender := &fakeSender{}
	table := model.StaticSlotTable{"cola": {3}}
	c := newTestCoordinator(table, sender, nil)

	results, err := c.Dispense(context.Background(), "cola", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDispense_ExpansionSlotRoutedToPulser(t *testing.T) {
	sender := &fakeSender{}
	pulser := &fakePulser{}
	table := model.StaticSlotTable{"gum": {50}}
	c := newTestCoordinator(table, sender, pulser)

	results, err := c.Dispense(context.Background(), "gum", 1)
	require.NoError(t, err)
	assert.True(t, results[0].Triggered)
	assert.Equal(t, []int{50}, pulser.slots)
	assert.Empty(t, sender.sent(), "expansion slots never touch the actuator board")
}

func TestDispense_ExpansionSlotWithoutPulserFails(t *testing.T) {
	table := model.StaticSlotTable{"gum": {50}}
	c := newTestCoordinator(table, &fakeSender{}, nil)

	results, err := c.Dispense(context.Background(), "gum", 1)
	require.NoError(t, err, "a failed unit is recorded, not raised")
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
	assert.NotEmpty(t, results[0].Error)
}

func TestDispense_FailedUnitDoesNotStrandTheRest(t *testing.T) {
	sender := &fakeSender{respond: func(command string) (string, error) {
		if strings.HasPrefix(command, "STATUS") {
			return "OK", nil
		}
		// Slot 3 pulses all fail, including the deliberate re-issue.
		if strings.HasPrefix(command, "PULSE 3 ") {
			return "", errors.New("board unreachable")
		}
		return "OK", nil
	}}
	table := model.StaticSlotTable{"cola": {3, 4}}
	c := newTestCoordinator(table, sender, nil)

	results, err := c.Dispense(context.Background(), "cola", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Triggered)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Triggered, "the run continues past a failed unit")
}

func TestPulseDirect_ReissuesOnceOnLostAck(t *testing.T) {
	var pulseCalls int
	sender := &fakeSender{respond: func(command string) (string, error) {
		if strings.HasPrefix(command, "STATUS") {
			return "OK", nil
		}
		pulseCalls++
		if pulseCalls == 1 {
			return "", errors.New("actuator response timeout")
		}
		return "OK", nil
	}}
	table := model.StaticSlotTable{"cola": {3}}
	c := newTestCoordinator(table, sender, nil)

	results, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)
	assert.True(t, results[0].Triggered,
		"a lost ack followed by an idempotent OK counts as triggered")
	assert.Equal(t, 2, pulseCalls)
}

func TestDispense_MonitorArmedBeforeTriggerAndCancelledOnFailure(t *testing.T) {
	sensors := newFakeSensors()
	monitor, _ := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))

	sender := &fakeSender{respond: func(command string) (string, error) {
		if strings.HasPrefix(command, "PULSE") {
			return "", errors.New("board unreachable")
		}
		return "OK", nil
	}}
	table := model.StaticSlotTable{"cola": {3}}
	c := NewCoordinator(table, sender, nil, monitor, fastCoordinatorConfig(), zap.NewNop())

	_, err := c.Dispense(context.Background(), "cola", 1)
	require.NoError(t, err)
	assert.Empty(t, monitor.Pending(),
		"the window armed before the trigger must be cancelled when the trigger fails")
}

func TestJogSlot_HoldsAndReleasesRelay(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(model.StaticSlotTable{}, sender, nil)

	require.NoError(t, c.JogSlot(context.Background(), 7, 0))
	assert.Equal(t, []string{"OPEN 7", "CLOSE 7"}, sender.sent())
}

func TestJogSlot_ReleasesEvenWhenContextExpiresMidHold(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(model.StaticSlotTable{}, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.JogSlot(ctx, 3, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"OPEN 3", "CLOSE 3"}, sender.sent(),
		"the relay must never stay closed after a cancelled jog")
}

func TestJogSlot_RejectsExpansionAndInvalidSlots(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(model.StaticSlotTable{}, sender, nil)

	assert.Error(t, c.JogSlot(context.Background(), 0, 0))
	assert.Error(t, c.JogSlot(context.Background(), 49, 0),
		"expansion slots have no holdable relay")
	assert.Empty(t, sender.sent())
}
