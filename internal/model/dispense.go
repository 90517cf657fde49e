// internal/model/dispense.go
package model

import "time"

// DispenseStatus represents the state of a slot dispense request
type DispenseStatus string

const (
	DispensePending   DispenseStatus = "PENDING"
	DispenseConfirmed DispenseStatus = "CONFIRMED"
	DispenseTimedOut  DispenseStatus = "TIMED_OUT"
	DispenseCancelled DispenseStatus = "CANCELLED"
)

// DispenseRequest tracks one slot pulse awaiting sensor confirmation.
// At most one pending request exists per slot number at a time.
type DispenseRequest struct {
	SlotNumber int            `json:"slot_number"` // 1..64
	ItemName   string         `json:"item_name"`
	Timeout    time.Duration  `json:"timeout"`
	StartedAt  time.Time      `json:"started_at"`
	Status     DispenseStatus `json:"status"`
}

// SlotTable resolves an item name to the slot numbers assigned to it.
// The assignment data is owned externally and read-only from this side.
type SlotTable interface {
	SlotsFor(itemName string) []int
}

// StaticSlotTable is a fixed in-memory slot assignment lookup
type StaticSlotTable map[string][]int

func (t StaticSlotTable) SlotsFor(itemName string) []int {
	return t[itemName]
}
