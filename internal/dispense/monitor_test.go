// internal/dispense/monitor_test.go
package dispense

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kiosk-control/internal/model"
)

// fakeSensors is a settable sensor bank. Like the real multiplexer
// cache, readings keep the timestamp of the line that produced them.
type fakeSensors struct {
	mu       sync.Mutex
	readings map[int]model.SensorReading
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{readings: make(map[int]model.SensorReading)}
}

func (f *fakeSensors) IRState(sensor int) (model.SensorReading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.readings[sensor]
	return r, ok
}

func (f *fakeSensors) set(sensor int, blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[sensor] = model.SensorReading{
		Sensor:    sensor,
		Blocked:   blocked,
		Timestamp: time.Now(),
	}
}

// outcomes collects monitor callbacks
type outcomes struct {
	mu        sync.Mutex
	confirmed []model.DispenseRequest
	timedOut  []model.DispenseRequest
}

func (o *outcomes) onConfirmed(req model.DispenseRequest, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmed = append(o.confirmed, req)
}

func (o *outcomes) onTimeout(req model.DispenseRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timedOut = append(o.timedOut, req)
}

func (o *outcomes) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.confirmed), len(o.timedOut)
}

func fastConfig(sensors []int, mode DetectionMode) MonitorConfig {
	return MonitorConfig{
		Sensors:      sensors,
		Mode:         mode,
		PollInterval: 10 * time.Millisecond,
		Samples:      1,
	}
}

func newTestMonitor(t *testing.T, reader SensorReader, cfg MonitorConfig) (*Monitor, *outcomes) {
	t.Helper()
	o := &outcomes{}
	m := NewMonitor(reader, cfg, o.onConfirmed, o.onTimeout, zap.NewNop())
	t.Cleanup(m.Stop)
	return m, o
}

func TestMonitor_ConfirmsOnBlockedSensor(t *testing.T) {
	sensors := newFakeSensors()
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))

	m.Start(3, time.Second, "cola")
	sensors.set(1, true)

	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)

	o.mu.Lock()
	assert.Equal(t, 3, o.confirmed[0].SlotNumber)
	assert.Equal(t, "cola", o.confirmed[0].ItemName)
	assert.Equal(t, model.DispenseConfirmed, o.confirmed[0].Status)
	o.mu.Unlock()

	assert.Empty(t, m.Pending(), "resolved window must be removed")
}

func TestMonitor_AnyModeTriggersOnOneOfMany(t *testing.T) {
	sensors := newFakeSensors()
	sensors.set(1, false)
	sensors.set(2, false)
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1, 2}, DetectAny))

	m.Start(5, time.Second, "chips")
	sensors.set(2, true)

	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_AllModeNeedsEverySensor(t *testing.T) {
	sensors := newFakeSensors()
	sensors.set(1, false)
	sensors.set(2, false)
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1, 2}, DetectAll))

	m.Start(5, 400*time.Millisecond, "chips")
	sensors.set(1, true)

	// One blocked sensor is not enough in all mode.
	time.Sleep(100 * time.Millisecond)
	c, _ := o.counts()
	assert.Zero(t, c)

	sensors.set(2, true)
	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_FirstModeTriggersLikeAny(t *testing.T) {
	sensors := newFakeSensors()
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1, 2}, DetectFirst))

	m.Start(7, time.Second, "water")
	sensors.set(1, true)

	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_TimeoutFiresExactlyOnce(t *testing.T) {
	sensors := newFakeSensors()
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))

	m.Start(4, 30*time.Millisecond, "cola")

	require.Eventually(t, func() bool {
		_, to := o.counts()
		return to == 1
	}, time.Second, 5*time.Millisecond)

	// More polls pass; the window is gone, nothing re-fires.
	time.Sleep(100 * time.Millisecond)
	c, to := o.counts()
	assert.Equal(t, 0, c)
	assert.Equal(t, 1, to)

	o.mu.Lock()
	assert.Equal(t, model.DispenseTimedOut, o.timedOut[0].Status)
	o.mu.Unlock()
}

func TestMonitor_CancelDropsWindowSilently(t *testing.T) {
	sensors := newFakeSensors()
	m, o := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))

	m.Start(4, 30*time.Millisecond, "cola")
	m.Cancel(4)

	time.Sleep(100 * time.Millisecond)
	c, to := o.counts()
	assert.Zero(t, c)
	assert.Zero(t, to, "a cancelled window must not time out")
}

func TestMonitor_StartReplacesPendingWindow(t *testing.T) {
	sensors := newFakeSensors()
	m, _ := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))

	m.Start(4, time.Minute, "cola")
	m.Start(4, time.Minute, "water")

	pending := m.Pending()
	require.Len(t, pending, 1, "at most one window per slot")
	assert.Equal(t, "water", pending[0].ItemName)
}

func TestMonitor_SimulateConfirmsWithoutSensors(t *testing.T) {
	cfg := fastConfig(nil, DetectAny)
	cfg.Simulate = true
	cfg.SimulateDelay = 30 * time.Millisecond

	// No reader needed in simulate mode; a nil-backed fake guards
	// against accidental sampling.
	m, o := newTestMonitor(t, newFakeSensors(), cfg)

	m.Start(9, time.Second, "cola")

	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
	o.mu.Lock()
	assert.Equal(t, 9, o.confirmed[0].SlotNumber)
	o.mu.Unlock()
}

func TestMonitor_MajorityVoteSuppressesFlicker(t *testing.T) {
	// A sensor flickering blocked on a single sample out of three must
	// not confirm.
	flicker := &flickerSensors{}
	cfg := MonitorConfig{
		Sensors:      []int{1},
		Mode:         DetectAny,
		PollInterval: 10 * time.Millisecond,
		Samples:      3,
	}
	m, o := newTestMonitor(t, flicker, cfg)
	m.Start(1, 150*time.Millisecond, "cola")

	time.Sleep(100 * time.Millisecond)
	c, _ := o.counts()
	assert.Zero(t, c)
}

func TestMonitor_StaleBlockedReadingCannotConfirm(t *testing.T) {
	// A product resting on the beam blocks the sensor long before the
	// window opens. That reading must not confirm the new dispense.
	sensors := newFakeSensors()
	sensors.set(1, true)
	time.Sleep(5 * time.Millisecond)

	m, o := newTestMonitor(t, sensors, fastConfig([]int{1}, DetectAny))
	m.Start(6, 80*time.Millisecond, "cola")

	require.Eventually(t, func() bool {
		_, to := o.counts()
		return to == 1
	}, time.Second, 5*time.Millisecond, "window must time out, not confirm")

	c, _ := o.counts()
	assert.Zero(t, c)

	// A fresh blocked reading on the next window confirms normally.
	m.Start(6, time.Second, "cola")
	sensors.set(1, true)
	require.Eventually(t, func() bool {
		c, _ := o.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

// flickerSensors reports blocked on every third sample only
type flickerSensors struct {
	mu    sync.Mutex
	calls int
}

func (f *flickerSensors) IRState(sensor int) (model.SensorReading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return model.SensorReading{
		Sensor:    sensor,
		Blocked:   f.calls%3 == 0,
		Timestamp: time.Now(),
	}, true
}
