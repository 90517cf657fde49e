// internal/link/classify_test.go
package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk-control/internal/model"
)

func TestClassifyLine_Temperature(t *testing.T) {
	now := time.Now()

	got := classifyLine("T1: 4.5C 62.0%", now)
	reading, ok := got.(model.TemperatureReading)
	require.True(t, ok, "expected a temperature reading, got %T", got)
	assert.Equal(t, "T1", reading.Label)
	assert.InDelta(t, 4.5, reading.Temperature, 0.001)
	assert.InDelta(t, 62.0, reading.Humidity, 0.001)

	got = classifyLine("AMBIENT: -3C 40%", now)
	reading, ok = got.(model.TemperatureReading)
	require.True(t, ok)
	assert.Equal(t, "AMBIENT", reading.Label)
	assert.InDelta(t, -3.0, reading.Temperature, 0.001)
}

func TestClassifyLine_Infrared(t *testing.T) {
	now := time.Now()

	got := classifyLine("IR2: BLOCKED", now)
	reading, ok := got.(model.SensorReading)
	require.True(t, ok)
	assert.Equal(t, 2, reading.Sensor)
	assert.True(t, reading.Blocked)

	got = classifyLine("IR14: CLEAR", now)
	reading, ok = got.(model.SensorReading)
	require.True(t, ok)
	assert.Equal(t, 14, reading.Sensor)
	assert.False(t, reading.Blocked)
}

func TestClassifyLine_Coin(t *testing.T) {
	got := classifyLine("[COIN] Accepted Value: 5 Total: 45", time.Now())
	coin, ok := got.(coinLine)
	require.True(t, ok)
	assert.Equal(t, 5, coin.value)
	assert.Equal(t, 45, coin.total)
}

func TestClassifyLine_Balance(t *testing.T) {
	got := classifyLine("BALANCE: 120", time.Now())
	bal, ok := got.(balanceLine)
	require.True(t, ok)
	assert.Equal(t, 120, bal.amount)
}

func TestClassifyLine_BillForward(t *testing.T) {
	got := classifyLine("BILL INSERTED: 50", time.Now())
	_, ok := got.(billLine)
	assert.True(t, ok, "BILL-prefixed lines must be forwarded raw")

	got = classifyLine("BILL:100", time.Now())
	_, ok = got.(billLine)
	assert.True(t, ok)
}

func TestClassifyLine_Dropped(t *testing.T) {
	now := time.Now()
	for _, line := range []string{
		"",
		"garbage",
		"T1 4.5C 62%",     // missing colon
		"IR: BLOCKED",      // missing sensor number
		"BALANCE: twelve",  // non-numeric
		"PULSES:10",        // bill grammar, but no BILL prefix on this link
	} {
		assert.Nil(t, classifyLine(line, now), "line %q must be dropped", line)
	}
}
