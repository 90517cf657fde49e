// internal/repository/dispense_repository.go
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kiosk-control/internal/database"
	"kiosk-control/internal/model"
)

// dispenseRepository implements DispenseRepository interface
type dispenseRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDispenseRepository creates a new dispense repository
func NewDispenseRepository(db *database.DB, logger *zap.Logger) DispenseRepository {
	return &dispenseRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a dispense log row
func (r *dispenseRepository) Create(ctx context.Context, record *model.DispenseRecord) error {
	query := `
		INSERT INTO dispense_logs (
			id, session_id, kiosk_id, item_name, slot,
			triggered, confirmed, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.SessionID, record.KioskID,
		record.ItemName, record.Slot, record.Triggered,
		record.Confirmed, record.Detail, record.CreatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create dispense record", zap.Error(err))
		return fmt.Errorf("failed to create dispense record: %w", err)
	}

	return nil
}

// MarkConfirmed updates the confirmation outcome of a dispense row
func (r *dispenseRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, detail string) error {
	query := `UPDATE dispense_logs SET confirmed = $2, detail = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, confirmed, detail)
	if err != nil {
		return fmt.Errorf("failed to update dispense record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("dispense record not found with id: %s", id)
	}

	return nil
}

// ListBySession returns all dispense rows of a payment session
func (r *dispenseRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*model.DispenseRecord, error) {
	query := `
		SELECT id, session_id, kiosk_id, item_name, slot,
			   triggered, confirmed, detail, created_at
		FROM dispense_logs
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	return r.queryRecords(ctx, query, sessionID)
}

// ListRecent returns the newest dispense rows for a kiosk
func (r *dispenseRepository) ListRecent(ctx context.Context, kioskID string, limit int) ([]*model.DispenseRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, kiosk_id, item_name, slot,
			   triggered, confirmed, detail, created_at
		FROM dispense_logs
		WHERE kiosk_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryRecords(ctx, query, kioskID, limit)
}

func (r *dispenseRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*model.DispenseRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispense records: %w", err)
	}
	defer rows.Close()

	var records []*model.DispenseRecord
	for rows.Next() {
		record := &model.DispenseRecord{}
		if err := rows.Scan(
			&record.ID, &record.SessionID, &record.KioskID,
			&record.ItemName, &record.Slot, &record.Triggered,
			&record.Confirmed, &record.Detail, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dispense record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
