// internal/hopper/hopper.go
package hopper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/device"
)

// Plan is the denomination split for a change amount. The hardware
// carries exactly two change denominations, 5 and 1 peso, so the
// greedy split is always optimal.
type Plan struct {
	Fives int `json:"fives"`
	Ones  int `json:"ones"`
	Total int `json:"total"`
}

// PlanChange computes the change plan for an amount.
// Invariant: 5*Fives + Ones == Total == amount for amount >= 0.
func PlanChange(amount int) Plan {
	if amount < 0 {
		amount = 0
	}
	return Plan{
		Fives: amount / 5,
		Ones:  amount % 5,
		Total: amount,
	}
}

// Result reports what a dispense actually delivered, in pesos. The
// delivered amount is the true count, never rounded up to the request.
type Result struct {
	Requested int    `json:"requested"`
	Delivered int    `json:"delivered"`
	Complete  bool   `json:"complete"`
	Failure   string `json:"failure,omitempty"`
}

// CommandSender issues one actuator command; *device.BoundSender
// satisfies it
type CommandSender interface {
	Send(ctx context.Context, command string, timeout time.Duration, retries int) (string, error)
}

// Config tunes hopper timing
type Config struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Retries        int           `mapstructure:"retries"`
	PerCoinTime    time.Duration `mapstructure:"per_coin_time"` // budget per coin in a tranche
	TrancheBase    time.Duration `mapstructure:"tranche_base"`  // fixed budget per tranche
}

// DefaultConfig returns the hopper defaults
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 2 * time.Second,
		Retries:        2,
		PerCoinTime:    800 * time.Millisecond,
		TrancheBase:    2 * time.Second,
	}
}

// dispensedHint extracts the partial-delivery count from an ERR or
// TIMEOUT response
var dispensedHint = regexp.MustCompile(`dispensed:(\d+)`)

// Controller computes change plans and drives the coin hopper through
// the actuator's DISPENSE_DENOM protocol, one denomination tranche at
// a time.
type Controller struct {
	sender CommandSender
	cfg    Config
	logger *zap.Logger
}

// NewController creates a hopper controller
func NewController(sender CommandSender, cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		sender: sender,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "hopper")),
	}
}

// DispenseChange dispenses the change plan for amount, 5-peso tranche
// first, then the 1-peso tranche. Progress is relayed through status.
// The result always carries the true delivered amount so a terminal
// failure can be reconciled manually.
func (c *Controller) DispenseChange(ctx context.Context, amount int, status func(string)) Result {
	plan := PlanChange(amount)
	res := Result{Requested: plan.Total}

	if plan.Total == 0 {
		res.Complete = true
		return res
	}

	c.logger.Info("Dispensing change",
		zap.Int("amount", plan.Total),
		zap.Int("fives", plan.Fives),
		zap.Int("ones", plan.Ones),
	)

	tranches := []struct {
		denom int
		count int
	}{
		{5, plan.Fives},
		{1, plan.Ones},
	}

	for _, tr := range tranches {
		if tr.count == 0 {
			continue
		}
		if status != nil {
			status(fmt.Sprintf("Dispensing %d x %d peso", tr.count, tr.denom))
		}

		delivered, err := c.dispenseTranche(ctx, tr.denom, tr.count)
		res.Delivered += delivered * tr.denom

		if err != nil {
			res.Failure = err.Error()
			c.logger.Error("Change tranche failed",
				zap.Int("denomination", tr.denom),
				zap.Int("requested", tr.count),
				zap.Int("delivered", delivered),
				zap.Error(err),
			)
			return res
		}
	}

	res.Complete = res.Delivered == res.Requested
	return res
}

// dispenseTranche dispenses one denomination batch and returns the
// units actually delivered
func (c *Controller) dispenseTranche(ctx context.Context, denom, count int) (int, error) {
	trancheTimeout := c.cfg.TrancheBase + time.Duration(count)*c.cfg.PerCoinTime
	timeoutMs := int(trancheTimeout / time.Millisecond)

	cmd := device.DispenseDenom(denom, count, timeoutMs)
	resp, err := c.sender.Send(ctx, cmd, trancheTimeout+c.cfg.CommandTimeout, c.cfg.Retries)
	if err != nil {
		// No response at all: unknown outcome, report zero delivered
		// and let reconciliation sort out the physical state.
		return 0, err
	}

	upper := strings.ToUpper(resp)
	if strings.Contains(upper, "OK") || strings.Contains(upper, "DONE") {
		return count, nil
	}

	if strings.Contains(upper, "ERR") || strings.Contains(upper, "TIMEOUT") {
		delivered := parseDispensedHint(resp)
		return delivered, fmt.Errorf("%w: %s", device.ErrDeviceRejected, resp)
	}

	return 0, fmt.Errorf("%w: unexpected response %q", device.ErrDeviceRejected, resp)
}

// parseDispensedHint pulls the partial count out of a failure response
func parseDispensedHint(resp string) int {
	m := dispensedHint.FindStringSubmatch(strings.ToLower(resp))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// DispenseRaw asks the board for a raw amount and lets its firmware
// pick the denomination split. Maintenance path; change for live
// sessions goes through DispenseChange so the split is auditable.
func (c *Controller) DispenseRaw(ctx context.Context, amount int) Result {
	res := Result{Requested: amount}
	if amount <= 0 {
		res.Complete = true
		return res
	}

	budget := c.cfg.TrancheBase + time.Duration(amount)*c.cfg.PerCoinTime
	cmd := device.DispenseAmount(amount, int(budget/time.Millisecond))

	resp, err := c.sender.Send(ctx, cmd, budget+c.cfg.CommandTimeout, c.cfg.Retries)
	if err != nil {
		res.Failure = err.Error()
		return res
	}

	upper := strings.ToUpper(resp)
	switch {
	case strings.Contains(upper, "OK") || strings.Contains(upper, "DONE"):
		res.Delivered = amount
		res.Complete = true
	case strings.Contains(upper, "ERR") || strings.Contains(upper, "TIMEOUT"):
		res.Delivered = parseDispensedHint(resp)
		res.Failure = resp
	default:
		res.Failure = fmt.Sprintf("unexpected response %q", resp)
	}
	return res
}

// OpenCoinPath holds one hopper coin path open
func (c *Controller) OpenCoinPath(ctx context.Context, denom int) error {
	return c.simpleCommand(ctx, device.CoinOpen(denom))
}

// CloseCoinPath releases one hopper coin path
func (c *Controller) CloseCoinPath(ctx context.Context, denom int) error {
	return c.simpleCommand(ctx, device.CoinClose(denom))
}

// CoinStatus queries the hopper's coin path state
func (c *Controller) CoinStatus(ctx context.Context) (string, error) {
	return c.sender.Send(ctx, device.CmdCoinStatus, c.cfg.CommandTimeout, c.cfg.Retries)
}

// RelaysOn powers the hopper relays, for bench checks from the
// maintenance surface
func (c *Controller) RelaysOn(ctx context.Context) error {
	return c.simpleCommand(ctx, device.CmdRelayOn)
}

// RelaysOff forces every hopper relay off
func (c *Controller) RelaysOff(ctx context.Context) error {
	return c.simpleCommand(ctx, device.CmdRelayOff)
}

// EnsureRelaysOff forces the relays off and only logs a failure. It is
// called before and after every payment session regardless of outcome,
// so a stuck relay can never outlive a session.
func (c *Controller) EnsureRelaysOff(ctx context.Context) {
	if err := c.RelaysOff(ctx); err != nil {
		c.logger.Warn("Failed to force relays off", zap.Error(err))
	}
}

func (c *Controller) simpleCommand(ctx context.Context, cmd string) error {
	resp, err := c.sender.Send(ctx, cmd, c.cfg.CommandTimeout, c.cfg.Retries)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("%w: %s", device.ErrDeviceRejected, resp)
	}
	return nil
}
