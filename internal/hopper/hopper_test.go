// internal/hopper/hopper_test.go
package hopper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kiosk-control/internal/device"
)

func TestPlanChange(t *testing.T) {
	tests := []struct {
		amount int
		fives  int
		ones   int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{3, 0, 3},
		{5, 1, 0},
		{7, 1, 2},
		{23, 4, 3},
		{100, 20, 0},
		{-5, 0, 0},
	}

	for _, tt := range tests {
		plan := PlanChange(tt.amount)
		assert.Equal(t, tt.fives, plan.Fives, "amount %d", tt.amount)
		assert.Equal(t, tt.ones, plan.Ones, "amount %d", tt.amount)
	}
}

func TestPlanChange_SplitAlwaysSumsToTotal(t *testing.T) {
	for amount := 0; amount <= 500; amount++ {
		plan := PlanChange(amount)
		require.Equal(t, amount, 5*plan.Fives+plan.Ones, "amount %d", amount)
		require.Equal(t, amount, plan.Total, "amount %d", amount)
	}
}

// scriptedSender answers commands from a lookup table
type scriptedSender struct {
	mu        sync.Mutex
	responses map[string]string // command prefix -> response
	err       error
	commands  []string
}

func (s *scriptedSender) Send(ctx context.Context, command string, timeout time.Duration, retries int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	if s.err != nil {
		return "", s.err
	}
	for prefix, resp := range s.responses {
		if strings.HasPrefix(command, prefix) {
			return resp, nil
		}
	}
	return "ERR unknown", nil
}

func (s *scriptedSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func newTestController(sender *scriptedSender) *Controller {
	return NewController(sender, DefaultConfig(), zap.NewNop())
}

func TestDispenseChange_ZeroAmountIsComplete(t *testing.T) {
	sender := &scriptedSender{}
	c := newTestController(sender)

	res := c.DispenseChange(context.Background(), 0, nil)
	assert.True(t, res.Complete)
	assert.Equal(t, 0, res.Delivered)
	assert.Empty(t, sender.sent(), "no commands for zero change")
}

func TestDispenseChange_FivesTrancheFirst(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"DISPENSE_DENOM": "OK"}}
	c := newTestController(sender)

	var statuses []string
	res := c.DispenseChange(context.Background(), 13, func(s string) {
		statuses = append(statuses, s)
	})

	require.True(t, res.Complete)
	assert.Equal(t, 13, res.Delivered)

	sent := sender.sent()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasPrefix(sent[0], "DISPENSE_DENOM 5 2 "), "got %q", sent[0])
	assert.True(t, strings.HasPrefix(sent[1], "DISPENSE_DENOM 1 3 "), "got %q", sent[1])

	require.Len(t, statuses, 2)
	assert.Equal(t, "Dispensing 2 x 5 peso", statuses[0])
	assert.Equal(t, "Dispensing 3 x 1 peso", statuses[1])
}

func TestDispenseChange_SkipsEmptyTranche(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"DISPENSE_DENOM": "DONE"}}
	c := newTestController(sender)

	res := c.DispenseChange(context.Background(), 10, nil)
	require.True(t, res.Complete)

	sent := sender.sent()
	require.Len(t, sent, 1, "no 1-peso tranche for a multiple of five")
	assert.True(t, strings.HasPrefix(sent[0], "DISPENSE_DENOM 5 2 "))
}

func TestDispenseChange_PartialDeliveryHint(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{
		"DISPENSE_DENOM 5": "ERR jam dispensed:1",
	}}
	c := newTestController(sender)

	res := c.DispenseChange(context.Background(), 13, nil)
	assert.False(t, res.Complete)
	assert.Equal(t, 5, res.Delivered, "one five-peso coin made it out before the jam")
	assert.Equal(t, 13, res.Requested)
	assert.NotEmpty(t, res.Failure)

	// The run stops at the failed tranche; ones are never attempted.
	for _, cmd := range sender.sent() {
		assert.False(t, strings.HasPrefix(cmd, "DISPENSE_DENOM 1"), "got %q", cmd)
	}
}

func TestDispenseChange_NoResponseReportsZeroDelivered(t *testing.T) {
	sender := &scriptedSender{err: errors.New("actuator response timeout")}
	c := newTestController(sender)

	res := c.DispenseChange(context.Background(), 7, nil)
	assert.False(t, res.Complete)
	assert.Equal(t, 0, res.Delivered,
		"an unknown outcome must never be counted as delivered")
}

func TestDispenseChange_UnexpectedResponseFails(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"DISPENSE_DENOM": "MAYBE"}}
	c := newTestController(sender)

	res := c.DispenseChange(context.Background(), 5, nil)
	assert.False(t, res.Complete)
	assert.Equal(t, 0, res.Delivered)
}

func TestParseDispensedHint(t *testing.T) {
	assert.Equal(t, 3, parseDispensedHint("ERR jam dispensed:3"))
	assert.Equal(t, 0, parseDispensedHint("TIMEOUT"))
	assert.Equal(t, 12, parseDispensedHint("err DISPENSED:12 motor stall"))
}

func TestRelaysOff(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{device.CmdRelayOff: "OK"}}
	c := newTestController(sender)

	require.NoError(t, c.RelaysOff(context.Background()))
	assert.Equal(t, []string{device.CmdRelayOff}, sender.sent())
}

func TestEnsureRelaysOff_SwallowsFailure(t *testing.T) {
	sender := &scriptedSender{err: fmt.Errorf("board unreachable")}
	c := newTestController(sender)

	// Must not panic or propagate; the failure is logged only.
	c.EnsureRelaysOff(context.Background())
	assert.NotEmpty(t, sender.sent())
}

func TestRelaysOn(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{device.CmdRelayOn: "OK"}}
	c := newTestController(sender)

	require.NoError(t, c.RelaysOn(context.Background()))
	assert.Equal(t, []string{device.CmdRelayOn}, sender.sent())
}

func TestDispenseRaw(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"DISPENSE_AMOUNT": "OK"}}
	c := newTestController(sender)

	res := c.DispenseRaw(context.Background(), 13)
	assert.True(t, res.Complete)
	assert.Equal(t, 13, res.Delivered)

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "DISPENSE_AMOUNT 13 "),
		"board picks the split for a raw amount: %s", sent[0])
}

func TestDispenseRaw_PartialDeliveryHint(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"DISPENSE_AMOUNT": "ERR jam dispensed:4"}}
	c := newTestController(sender)

	res := c.DispenseRaw(context.Background(), 13)
	assert.False(t, res.Complete)
	assert.Equal(t, 4, res.Delivered)
	assert.Contains(t, res.Failure, "jam")
}

func TestCoinPathCommands(t *testing.T) {
	sender := &scriptedSender{responses: map[string]string{"COIN_": "OK"}}
	c := newTestController(sender)

	require.NoError(t, c.OpenCoinPath(context.Background(), 5))
	require.NoError(t, c.CloseCoinPath(context.Background(), 5))

	sent := sender.sent()
	assert.Equal(t, []string{"COIN_OPEN 5", "COIN_CLOSE 5"}, sent)
}
