// internal/acceptor/acceptor.go
package acceptor

// Acceptor is the uniform surface over the heterogeneous money
// acceptor backends: direct-pulse, textual-protocol, and
// shared-reader-backed coin acceptors, plus the bill acceptor. The
// concrete variant is chosen at construction.
type Acceptor interface {
	// ReceivedAmount returns the amount accepted since the last reset
	ReceivedAmount() int

	// ResetAmount rebases the counter to zero without disturbing any
	// shared hardware counters
	ResetAmount()

	// SetCallback registers the listener invoked with the new
	// received amount after every accepted event
	SetCallback(fn func(received int))

	// Close releases the backend
	Close() error
}
