// internal/service/hardware_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kiosk-control/internal/device"
	"kiosk-control/internal/dispense"
	"kiosk-control/internal/hopper"
	"kiosk-control/internal/link"
	"kiosk-control/internal/utils"

	"go.uber.org/zap"
)

// PeripheralStatus describes one peripheral in the hardware report
type PeripheralStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Online    bool   `json:"online"`
	Detail    string `json:"detail,omitempty"`
}

// HardwareStatus is the aggregate hardware report
type HardwareStatus struct {
	Peripherals  []PeripheralStatus     `json:"peripherals"`
	Sensors      map[string]interface{} `json:"sensors"`
	CoinBalance  *int                   `json:"coin_balance,omitempty"`
	GeneratedAt  time.Time              `json:"generated_at"`
	AllAvailable bool                   `json:"all_available"`
}

// HardwareService aggregates peripheral health and brokers raw
// command passthrough for maintenance tooling
type HardwareService struct {
	sensorLink *link.Multiplexer // nil when no shared link is configured
	client     *device.Client
	actuator   device.Target
	hopperCtl  *hopper.Controller
	hopperTgt  device.Target
	slots      *dispense.Coordinator
	tempLabels []string
	sensorIDs  []int
	logger     *utils.ServiceLogger
	commandLog *utils.HardwareLogger
}

// NewHardwareService creates a hardware service instance
func NewHardwareService(
	sensorLink *link.Multiplexer,
	client *device.Client,
	actuator device.Target,
	hopperCtl *hopper.Controller,
	hopperTgt device.Target,
	slots *dispense.Coordinator,
	sensorIDs []int,
	logger *zap.Logger,
) *HardwareService {
	return &HardwareService{
		sensorLink: sensorLink,
		client:     client,
		actuator:   actuator,
		hopperCtl:  hopperCtl,
		hopperTgt:  hopperTgt,
		slots:      slots,
		tempLabels: []string{"T1", "T2", "AMBIENT"},
		sensorIDs:  sensorIDs,
		logger:     utils.NewServiceLogger(logger, "hardware-service"),
		commandLog: utils.NewHardwareLogger(logger, "passthrough", "mixed"),
	}
}

// Status collects a best-effort snapshot of every peripheral. Probes
// that fail mark the peripheral offline; they never fail the report.
func (hs *HardwareService) Status(ctx context.Context) *HardwareStatus {
	report := &HardwareStatus{
		Sensors:     make(map[string]interface{}),
		GeneratedAt: time.Now(),
	}

	if hs.sensorLink != nil {
		online := hs.sensorLink.Connected()
		report.Peripherals = append(report.Peripherals, PeripheralStatus{
			Name:      "sensor-link",
			Transport: "serial",
			Online:    online,
		})

		for _, label := range hs.tempLabels {
			if reading, ok := hs.sensorLink.Temperature(label); ok {
				report.Sensors["temp_"+label] = reading
			}
		}
		for _, id := range hs.sensorIDs {
			if reading, ok := hs.sensorLink.IRState(id); ok {
				report.Sensors[fmt.Sprintf("ir_%d", id)] = reading
			}
		}
		if balance, at, ok := hs.sensorLink.Balance(); ok && time.Since(at) < time.Minute {
			report.CoinBalance = &balance
		}
	}

	report.Peripherals = append(report.Peripherals,
		hs.probeBoard(ctx, "actuator", hs.actuator))

	hopperStatus := PeripheralStatus{
		Name:      "hopper",
		Transport: strings.ToLower(string(hs.hopperTgt.Kind)),
	}
	if hs.hopperCtl != nil {
		resp, err := hs.hopperCtl.CoinStatus(ctx)
		hopperStatus.Online = err == nil
		if err != nil {
			hopperStatus.Detail = err.Error()
		} else {
			hopperStatus.Detail = strings.TrimSpace(resp)
		}
	} else {
		hopperStatus.Detail = "not configured"
	}
	report.Peripherals = append(report.Peripherals, hopperStatus)

	report.AllAvailable = true
	for _, p := range report.Peripherals {
		if !p.Online {
			report.AllAvailable = false
			break
		}
	}

	return report
}

// probeBoard checks one request-response board with a STATUS exchange
func (hs *HardwareService) probeBoard(ctx context.Context, name string, target device.Target) PeripheralStatus {
	status := PeripheralStatus{
		Name:      name,
		Transport: strings.ToLower(string(target.Kind)),
	}

	resp, err := hs.client.Send(ctx, target, device.CmdStatus, 2*time.Second, 1)
	if err != nil {
		status.Detail = err.Error()
		return status
	}

	status.Online = true
	status.Detail = strings.TrimSpace(resp)
	return status
}

// RawCommand forwards a maintenance command to a named peripheral
func (hs *HardwareService) RawCommand(ctx context.Context, peripheral, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	start := time.Now()

	var resp string
	var err error
	switch peripheral {
	case "actuator":
		resp, err = hs.client.Send(ctx, hs.actuator, command, 3*time.Second, 1)
	case "hopper":
		resp, err = hs.client.Send(ctx, hs.hopperTgt, command, 3*time.Second, 1)
	case "sensor-link":
		if hs.sensorLink == nil {
			return "", fmt.Errorf("sensor link is not configured")
		}
		// Fire-and-forget: replies arrive on the shared stream.
		err = hs.sensorLink.Send(command)
	default:
		return "", fmt.Errorf("unknown peripheral %q", peripheral)
	}

	hs.commandLog.LogCommand(command, resp, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return resp, nil
}

// RelaysOff forces every hopper relay off, for maintenance recovery
func (hs *HardwareService) RelaysOff(ctx context.Context) error {
	if hs.hopperCtl == nil {
		return fmt.Errorf("hopper is not configured")
	}
	return hs.hopperCtl.RelaysOff(ctx)
}

// RelaysOn powers the hopper relays, for bench checks
func (hs *HardwareService) RelaysOn(ctx context.Context) error {
	if hs.hopperCtl == nil {
		return fmt.Errorf("hopper is not configured")
	}
	return hs.hopperCtl.RelaysOn(ctx)
}

// HopperDispense runs a board-side raw dispense, for verifying the
// hopper outside a payment session
func (hs *HardwareService) HopperDispense(ctx context.Context, amount int) (hopper.Result, error) {
	if hs.hopperCtl == nil {
		return hopper.Result{}, fmt.Errorf("hopper is not configured")
	}
	if amount <= 0 {
		return hopper.Result{}, fmt.Errorf("amount must be positive")
	}
	return hs.hopperCtl.DispenseRaw(ctx, amount), nil
}

// JogSlot holds one slot relay closed and releases it, for clearing a
// jammed spiral
func (hs *HardwareService) JogSlot(ctx context.Context, slot int, hold time.Duration) error {
	if hs.slots == nil {
		return fmt.Errorf("slot coordinator is not configured")
	}
	return hs.slots.JogSlot(ctx, slot, hold)
}
