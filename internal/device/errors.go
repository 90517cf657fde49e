// internal/device/errors.go
package device

import "errors"

// Error taxonomy for actuator communication. Retry loops branch on
// these values; they are surfaced to the session or coordinator as a
// terminal status string only once retries are exhausted.
var (
	// ErrTransport means the link could not be established or used
	ErrTransport = errors.New("actuator transport unavailable")

	// ErrProtocolTimeout means no parseable response arrived in the
	// deadline. Callers must treat this as an unknown outcome, not a
	// failure: the actuator may have executed the physical action
	// even though the response was lost.
	ErrProtocolTimeout = errors.New("actuator response timeout")

	// ErrDeviceRejected means the device answered with an explicit
	// ERR or TIMEOUT response
	ErrDeviceRejected = errors.New("actuator rejected command")
)
