// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kiosk-control/internal/database"
	"kiosk-control/internal/model"
)

// sessionRepository implements SessionRepository interface
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the opening row for a payment session
func (r *sessionRepository) Create(ctx context.Context, record *model.PaymentRecord) error {
	query := `
		INSERT INTO payment_sessions (
			id, kiosk_id, required_amount, coin_total, bill_total,
			change_dispensed, status, status_text, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.KioskID, record.RequiredAmount,
		record.CoinTotal, record.BillTotal, record.ChangeDispensed,
		record.Status, record.StatusText, record.StartedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create payment session record", zap.Error(err))
		return fmt.Errorf("failed to create payment session record: %w", err)
	}

	return nil
}

// Finish writes the terminal state of a payment session
func (r *sessionRepository) Finish(ctx context.Context, record *model.PaymentRecord) error {
	query := `
		UPDATE payment_sessions SET
			coin_total = $2, bill_total = $3, change_dispensed = $4,
			status = $5, status_text = $6, finished_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, record.CoinTotal, record.BillTotal,
		record.ChangeDispensed, record.Status, record.StatusText,
		record.FinishedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to finish payment session record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("payment session not found with id: %s", record.ID)
	}

	return nil
}

// GetByID retrieves a payment session by ID
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PaymentRecord, error) {
	query := `
		SELECT id, kiosk_id, required_amount, coin_total, bill_total,
			   change_dispensed, status, status_text, started_at, finished_at
		FROM payment_sessions WHERE id = $1
	`

	record := &model.PaymentRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID, &record.KioskID, &record.RequiredAmount,
		&record.CoinTotal, &record.BillTotal, &record.ChangeDispensed,
		&record.Status, &record.StatusText, &record.StartedAt,
		&record.FinishedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("payment session not found with id: %s", id)
		}
		return nil, fmt.Errorf("failed to get payment session: %w", err)
	}

	return record, nil
}

// ListRecent returns the newest sessions for a kiosk
func (r *sessionRepository) ListRecent(ctx context.Context, kioskID string, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, kiosk_id, required_amount, coin_total, bill_total,
			   change_dispensed, status, status_text, started_at, finished_at
		FROM payment_sessions
		WHERE kiosk_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, kioskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment sessions: %w", err)
	}
	defer rows.Close()

	var records []*model.PaymentRecord
	for rows.Next() {
		record := &model.PaymentRecord{}
		if err := rows.Scan(
			&record.ID, &record.KioskID, &record.RequiredAmount,
			&record.CoinTotal, &record.BillTotal, &record.ChangeDispensed,
			&record.Status, &record.StatusText, &record.StartedAt,
			&record.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment session: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// GetDailyTotals aggregates finished sessions for one calendar day
func (r *sessionRepository) GetDailyTotals(ctx context.Context, kioskID string, day time.Time) (*DailyTotals, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(coin_total), 0),
			   COALESCE(SUM(bill_total), 0),
			   COALESCE(SUM(change_dispensed), 0)
		FROM payment_sessions
		WHERE kiosk_id = $1 AND started_at >= $2 AND started_at < $3
		  AND finished_at IS NOT NULL
	`

	totals := &DailyTotals{}
	err := r.db.QueryRowContext(ctx, query, kioskID, dayStart, dayEnd).Scan(
		&totals.Sessions, &totals.CoinTotal, &totals.BillTotal, &totals.Change,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily totals: %w", err)
	}

	return totals, nil
}
