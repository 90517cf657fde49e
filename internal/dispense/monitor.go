// internal/dispense/monitor.go
package dispense

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// DetectionMode selects how the infrared sensors confirm a drop
type DetectionMode string

const (
	// DetectAny confirms on the first obstructed sensor
	DetectAny DetectionMode = "any"
	// DetectAll confirms only when every sensor is obstructed at once
	DetectAll DetectionMode = "all"
	// DetectFirst triggers like DetectAny; the distinction is purely
	// semantic and kept for the configuration surface
	DetectFirst DetectionMode = "first"
)

// SensorReader supplies infrared sensor state; *link.Multiplexer
// satisfies it
type SensorReader interface {
	IRState(sensor int) (model.SensorReading, bool)
}

// MonitorConfig tunes the confirmation monitor
type MonitorConfig struct {
	Sensors      []int         `mapstructure:"sensors"`
	Mode         DetectionMode `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Samples      int           `mapstructure:"samples"`    // majority-vote sample count per sensor
	SampleGap    time.Duration `mapstructure:"sample_gap"` // gap between rapid samples

	// Simulate confirms every request after SimulateDelay regardless
	// of sensor state, for hardware-less testing. Explicit opt-in.
	Simulate      bool          `mapstructure:"simulate"`
	SimulateDelay time.Duration `mapstructure:"simulate_delay"`
}

// DefaultMonitorConfig returns the monitor defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Sensors:       []int{1},
		Mode:          DetectAny,
		PollInterval:  500 * time.Millisecond,
		Samples:       3,
		SampleGap:     10 * time.Millisecond,
		SimulateDelay: 1 * time.Second,
	}
}

// Monitor tracks per-slot dispense windows against the infrared
// sensors. Entries are mutated only by the poll loop; Start and Cancel
// just add and remove them.
type Monitor struct {
	reader      SensorReader
	cfg         MonitorConfig
	logger      *zap.Logger
	onConfirmed func(req model.DispenseRequest, elapsed time.Duration)
	onTimeout   func(req model.DispenseRequest)

	mu      sync.Mutex
	pending map[int]*model.DispenseRequest

	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates the monitor and starts its poll loop
func NewMonitor(reader SensorReader, cfg MonitorConfig,
	onConfirmed func(model.DispenseRequest, time.Duration),
	onTimeout func(model.DispenseRequest),
	logger *zap.Logger,
) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 3
	}

	m := &Monitor{
		reader:      reader,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "confirm-monitor")),
		onConfirmed: onConfirmed,
		onTimeout:   onTimeout,
		pending:     make(map[int]*model.DispenseRequest),
		done:        make(chan struct{}),
	}
	go m.pollLoop()
	return m
}

// Start opens a confirmation window for a slot. A still-pending
// request on the same slot is replaced, keeping the at-most-one
// invariant.
func (m *Monitor) Start(slot int, timeout time.Duration, itemName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.pending[slot]; ok {
		m.logger.Warn("Replacing pending dispense window",
			zap.Int("slot", slot),
			zap.String("previous_item", prev.ItemName),
		)
	}
	m.pending[slot] = &model.DispenseRequest{
		SlotNumber: slot,
		ItemName:   itemName,
		Timeout:    timeout,
		StartedAt:  time.Now(),
		Status:     model.DispensePending,
	}
}

// Cancel drops a slot's window silently
func (m *Monitor) Cancel(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, slot)
}

// Pending returns a snapshot of the open windows
func (m *Monitor) Pending() []model.DispenseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.DispenseRequest, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, *req)
	}
	return out
}

// Stop shuts the poll loop down
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// pollLoop periodically resolves the open windows
func (m *Monitor) pollLoop() {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll resolves every open window once. Timeouts are reported per
// slot, never aggregated, so a jammed mechanism can be pinpointed.
func (m *Monitor) poll() {
	now := time.Now()

	var samples []sensorSample
	if !m.cfg.Simulate {
		samples = m.sampleSensors()
	}

	type outcome struct {
		req       model.DispenseRequest
		confirmed bool
		elapsed   time.Duration
	}
	var resolved []outcome

	m.mu.Lock()
	for slot, req := range m.pending {
		elapsed := now.Sub(req.StartedAt)

		var confirmed bool
		if m.cfg.Simulate {
			confirmed = elapsed >= m.cfg.SimulateDelay
		} else {
			confirmed = m.evaluate(blockedSince(samples, req.StartedAt))
		}

		switch {
		case confirmed:
			req.Status = model.DispenseConfirmed
			resolved = append(resolved, outcome{req: *req, confirmed: true, elapsed: elapsed})
			delete(m.pending, slot)
		case elapsed > req.Timeout:
			req.Status = model.DispenseTimedOut
			resolved = append(resolved, outcome{req: *req})
			delete(m.pending, slot)
		}
	}
	m.mu.Unlock()

	for _, o := range resolved {
		if o.confirmed {
			m.logger.Info("Dispense confirmed",
				zap.Int("slot", o.req.SlotNumber),
				zap.String("item", o.req.ItemName),
				zap.Duration("elapsed", o.elapsed),
				zap.String("mode", string(m.cfg.Mode)),
			)
			if m.onConfirmed != nil {
				m.onConfirmed(o.req, o.elapsed)
			}
		} else {
			m.logger.Warn("Dispense window timed out",
				zap.Int("slot", o.req.SlotNumber),
				zap.String("item", o.req.ItemName),
				zap.Duration("timeout", o.req.Timeout),
			)
			if m.onTimeout != nil {
				m.onTimeout(o.req)
			}
		}
	}
}

// sensorSample is one debounced sensor verdict plus the timestamp of
// the newest reading behind it
type sensorSample struct {
	blocked bool
	seenAt  time.Time
}

// sampleSensors reads each configured sensor several times in quick
// succession and majority-votes the result, suppressing single-sample
// flicker.
func (m *Monitor) sampleSensors() []sensorSample {
	votes := make([]int, len(m.cfg.Sensors))
	seen := make([]time.Time, len(m.cfg.Sensors))

	for sample := 0; sample < m.cfg.Samples; sample++ {
		for i, sensor := range m.cfg.Sensors {
			reading, ok := m.reader.IRState(sensor)
			if !ok {
				continue
			}
			if reading.Timestamp.After(seen[i]) {
				seen[i] = reading.Timestamp
			}
			if reading.Blocked {
				votes[i]++
			}
		}
		if sample < m.cfg.Samples-1 && m.cfg.SampleGap > 0 {
			time.Sleep(m.cfg.SampleGap)
		}
	}

	samples := make([]sensorSample, len(votes))
	for i, v := range votes {
		samples[i] = sensorSample{blocked: v > m.cfg.Samples/2, seenAt: seen[i]}
	}
	return samples
}

// blockedSince reduces a sample set to per-sensor verdicts for one
// window. A blocked reading older than the window start is a product
// resting on the beam from before the dispense, not a drop, so it
// cannot confirm.
func blockedSince(samples []sensorSample, since time.Time) []bool {
	out := make([]bool, len(samples))
	for i, s := range samples {
		out[i] = s.blocked && s.seenAt.After(since)
	}
	return out
}

// evaluate applies the detection policy to one debounced sample set
func (m *Monitor) evaluate(blocked []bool) bool {
	if len(blocked) == 0 {
		return false
	}

	switch m.cfg.Mode {
	case DetectAll:
		for _, b := range blocked {
			if !b {
				return false
			}
		}
		return true
	default: // any and first share the trigger
		for _, b := range blocked {
			if b {
				return true
			}
		}
		return false
	}
}
