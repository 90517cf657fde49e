// internal/model/session.go
package model

import "time"

// SessionStatus represents the payment session lifecycle state
type SessionStatus string

const (
	SessionIdle       SessionStatus = "IDLE"
	SessionCollecting SessionStatus = "COLLECTING"
	SessionCompleting SessionStatus = "COMPLETING"
	SessionCancelled  SessionStatus = "CANCELLED"
)

// SessionState is a snapshot of a payment session.
// Totals are monotonically non-decreasing while the status is COLLECTING
// and reset only on an explicit start or stop.
type SessionState struct {
	RequiredAmount int           `json:"required_amount"`
	CoinTotal      int           `json:"coin_total"`
	BillTotal      int           `json:"bill_total"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
}

// Total returns the combined collected amount
func (s SessionState) Total() int {
	return s.CoinTotal + s.BillTotal
}

// SessionResult is the outcome of a stopped or cancelled session.
// Hardware failures during change dispensing are encoded in StatusText,
// never raised as errors.
type SessionResult struct {
	TotalReceived   int    `json:"total_received"`
	CoinTotal       int    `json:"coin_total"`
	BillTotal       int    `json:"bill_total"`
	ChangeDispensed int    `json:"change_dispensed"`
	StatusText      string `json:"status_text"`
}
