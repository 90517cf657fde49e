// internal/gpio/line.go
package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Line is one digital I/O line. The production implementation wraps a
// periph.io pin; tests use in-memory fakes.
type Line interface {
	// Output configures the line as a digital output
	Output() error
	// Input configures the line as a pulled-up input with edge detection
	Input() error
	// Set drives the output level
	Set(high bool) error
	// Read samples the current level
	Read() bool
	// WaitForEdge blocks until a level transition or timeout
	WaitForEdge(timeout time.Duration) bool
}

var hostInit sync.Once

// OpenPin resolves a named GPIO pin through periph.io
func OpenPin(name string) (Line, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize gpio host: %w", initErr)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return &periphLine{pin: pin}, nil
}

// periphLine adapts a periph.io pin to the Line interface
type periphLine struct {
	pin gpio.PinIO
}

func (l *periphLine) Output() error {
	if err := l.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to configure %s as output: %w", l.pin.Name(), err)
	}
	return nil
}

func (l *periphLine) Input() error {
	if err := l.pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("failed to configure %s as input: %w", l.pin.Name(), err)
	}
	return nil
}

func (l *periphLine) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive %s: %w", l.pin.Name(), err)
	}
	return nil
}

func (l *periphLine) Read() bool {
	return l.pin.Read() == gpio.High
}

func (l *periphLine) WaitForEdge(timeout time.Duration) bool {
	return l.pin.WaitForEdge(timeout)
}
