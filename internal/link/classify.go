// internal/link/classify.go
package link

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"kiosk-control/internal/model"
)

// Inbound line grammars, applied in order; the first match wins.
var (
	temperaturePattern = regexp.MustCompile(`^([A-Za-z0-9_]+):\s*(-?\d+(?:\.\d+)?)C\s+(\d+(?:\.\d+)?)%$`)
	infraredPattern    = regexp.MustCompile(`^IR(\d+):\s*(BLOCKED|CLEAR)$`)
	coinPattern        = regexp.MustCompile(`\[COIN\].*Value:\s*(\d+).*Total:\s*(\d+)`)
	balancePattern     = regexp.MustCompile(`^BALANCE:\s*(\d+)$`)
)

// coinLine is a decoded "[COIN] ... Value: X ... Total: Y" line
type coinLine struct {
	value int
	total int
}

// balanceLine is a decoded "BALANCE: X" poll response
type balanceLine struct {
	amount int
}

// billLine marks a raw bill-protocol line for forwarding
type billLine struct{}

// classifyLine applies the ordered inbound grammars to one line.
// It returns a typed value on match or nil for lines to drop.
func classifyLine(line string, now time.Time) interface{} {
	if m := temperaturePattern.FindStringSubmatch(line); m != nil {
		temp, err1 := strconv.ParseFloat(m[2], 64)
		hum, err2 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil {
			return nil
		}
		return model.TemperatureReading{
			Label:       m[1],
			Temperature: temp,
			Humidity:    hum,
			Timestamp:   now,
		}
	}

	if m := infraredPattern.FindStringSubmatch(line); m != nil {
		sensor, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		return model.SensorReading{
			Sensor:    sensor,
			Blocked:   m[2] == "BLOCKED",
			Timestamp: now,
		}
	}

	if m := coinPattern.FindStringSubmatch(line); m != nil {
		value, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			return nil
		}
		return coinLine{value: value, total: total}
	}

	if m := balancePattern.FindStringSubmatch(line); m != nil {
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		return balanceLine{amount: amount}
	}

	if strings.HasPrefix(line, "BILL") {
		return billLine{}
	}

	return nil
}
