// internal/model/records.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is the persisted audit row for one payment session
type PaymentRecord struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	KioskID         string     `json:"kiosk_id" db:"kiosk_id"`
	RequiredAmount  int        `json:"required_amount" db:"required_amount"`
	CoinTotal       int        `json:"coin_total" db:"coin_total"`
	BillTotal       int        `json:"bill_total" db:"bill_total"`
	ChangeDispensed int        `json:"change_dispensed" db:"change_dispensed"`
	Status          string     `json:"status" db:"status"`
	StatusText      string     `json:"status_text" db:"status_text"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// DispenseRecord is the persisted audit row for one slot activation
type DispenseRecord struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	SessionID *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	KioskID   string     `json:"kiosk_id" db:"kiosk_id"`
	ItemName  string     `json:"item_name" db:"item_name"`
	Slot      int        `json:"slot" db:"slot"`
	Triggered bool       `json:"triggered" db:"triggered"`
	Confirmed bool       `json:"confirmed" db:"confirmed"`
	Detail    string     `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
