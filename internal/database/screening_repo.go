package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/mailtriage/pkg/models"
)

// UpsertDecision records the user's decision for sender, replacing any earlier one
func (db *DB) UpsertDecision(ctx context.Context, userID int64, sender string, decision models.Decision) (*models.ScreeningDecision, error) {
	query := db.Rebind(`
		INSERT INTO screening_decisions (user_id, sender, decision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, sender) DO UPDATE SET decision = excluded.decision, updated_at = excluded.updated_at
		RETURNING id, user_id, sender, decision, created_at, updated_at
	`)
	ts := now()

	var d models.ScreeningDecision
	err := db.QueryRowxContext(ctx, query, userID, sender, decision, ts, ts).StructScan(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to save screening decision: %w", err)
	}
	return &d, nil
}

// GetDecision returns the decision for (userID, sender)
func (db *DB) GetDecision(ctx context.Context, userID int64, sender string) (*models.ScreeningDecision, error) {
	var d models.ScreeningDecision
	query := db.Rebind(`SELECT * FROM screening_decisions WHERE user_id = ? AND sender = ?`)
	err := db.GetContext(ctx, &d, query, userID, sender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screening decision: %w", err)
	}
	return &d, nil
}

// ListDecisions returns all decisions of a user, most recent first
func (db *DB) ListDecisions(ctx context.Context, userID int64) ([]*models.ScreeningDecision, error) {
	var decisions []*models.ScreeningDecision
	query := db.Rebind(`SELECT * FROM screening_decisions WHERE user_id = ? ORDER BY updated_at DESC, id DESC`)
	if err := db.SelectContext(ctx, &decisions, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list screening decisions: %w", err)
	}
	return decisions, nil
}

// UndoScreening removes the decision for sender and returns every message of the
// user from that sender to pending with no view. Both changes commit together.
// It returns the number of messages that changed, so a repeated call returns 0.
func (db *DB) UndoScreening(ctx context.Context, userID int64, sender string) (int64, error) {
	var reset int64

	err := db.Tx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`DELETE FROM screening_decisions WHERE user_id = ? AND sender = ?`)
		if _, err := tx.ExecContext(ctx, query, userID, sender); err != nil {
			return fmt.Errorf("failed to delete screening decision: %w", err)
		}

		query = tx.Rebind(`
			UPDATE emails SET screening_status = ?, view = NULL, category = NULL, confidence = 0, updated_at = ?
			WHERE sender = ? AND account_id IN (SELECT id FROM email_accounts WHERE user_id = ?)
			  AND (screening_status != ? OR view IS NOT NULL)
		`)
		result, err := tx.ExecContext(ctx, query, models.ScreeningPending, now(), sender, userID, models.ScreeningPending)
		if err != nil {
			return fmt.Errorf("failed to reset screened emails: %w", err)
		}

		reset, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return reset, nil
}
