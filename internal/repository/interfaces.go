// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"kiosk-control/internal/model"

	"github.com/google/uuid"
)

// SessionRepository defines payment session audit operations
type SessionRepository interface {
	Create(ctx context.Context, record *model.PaymentRecord) error
	Finish(ctx context.Context, record *model.PaymentRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.PaymentRecord, error)
	ListRecent(ctx context.Context, kioskID string, limit int) ([]*model.PaymentRecord, error)
	GetDailyTotals(ctx context.Context, kioskID string, day time.Time) (*DailyTotals, error)
}

// DispenseRepository defines slot dispense audit operations
type DispenseRepository interface {
	Create(ctx context.Context, record *model.DispenseRecord) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, detail string) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*model.DispenseRecord, error)
	ListRecent(ctx context.Context, kioskID string, limit int) ([]*model.DispenseRecord, error)
}

// DailyTotals aggregates one day of payment sessions
type DailyTotals struct {
	Sessions  int `json:"sessions"`
	CoinTotal int `json:"coin_total"`
	BillTotal int `json:"bill_total"`
	Change    int `json:"change"`
}
