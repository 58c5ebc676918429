package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/mailtriage/pkg/models"
)

// UpsertOutcome what UpsertEmail did with the row
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// UpsertEmail stores msg keyed by (account_id, external_id). A new row is inserted
// with a nil view; an existing row only gets its server-side flags and folder updated.
func (db *DB) UpsertEmail(ctx context.Context, msg *models.Email) (*models.Email, UpsertOutcome, error) {
	var (
		stored  *models.Email
		outcome UpsertOutcome
	)

	err := db.Tx(ctx, func(tx *sqlx.Tx) error {
		existing, err := getEmailByExternalID(ctx, tx, msg.AccountID, msg.ExternalID)
		if errors.Is(err, ErrNotFound) {
			var inserted bool
			inserted, err = insertEmail(ctx, tx, msg)
			if err != nil {
				return err
			}
			if inserted {
				stored, outcome = msg, UpsertCreated
				return nil
			}
			// Lost an insert race, fall through to the update path
			existing, err = getEmailByExternalID(ctx, tx, msg.AccountID, msg.ExternalID)
		}
		if err != nil {
			return err
		}

		if existing.IsRead == msg.IsRead && existing.IsStarred == msg.IsStarred && existing.Folder == msg.Folder {
			stored, outcome = existing, UpsertUnchanged
			return nil
		}

		ts := now()
		query := tx.Rebind(`UPDATE emails SET is_read = ?, is_starred = ?, folder = ?, updated_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, msg.IsRead, msg.IsStarred, msg.Folder, ts, existing.ID); err != nil {
			return fmt.Errorf("failed to update email flags: %w", err)
		}

		existing.IsRead = msg.IsRead
		existing.IsStarred = msg.IsStarred
		existing.Folder = msg.Folder
		existing.UpdatedAt = ts
		stored, outcome = existing, UpsertUpdated
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return stored, outcome, nil
}

func insertEmail(ctx context.Context, tx *sqlx.Tx, msg *models.Email) (bool, error) {
	query := tx.Rebind(`
		INSERT INTO emails (account_id, external_id, thread_id, from_addr, from_name, sender, to_addrs, cc_addrs,
			subject, body_text, body_html, folder, size, has_attachments, view, category, confidence,
			screening_status, is_read, is_starred, is_archived, received_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, 0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, external_id) DO NOTHING
		RETURNING id
	`)
	ts := now()
	if msg.ScreeningStatus == "" {
		msg.ScreeningStatus = models.ScreeningPending
	}

	var id int64
	err := tx.QueryRowxContext(ctx, query,
		msg.AccountID,
		msg.ExternalID,
		msg.ThreadID,
		msg.FromAddr,
		msg.FromName,
		msg.Sender,
		msg.ToAddrs,
		msg.CcAddrs,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.Folder,
		msg.Size,
		msg.HasAttachments,
		msg.ScreeningStatus,
		msg.IsRead,
		msg.IsStarred,
		msg.IsArchived,
		msg.ReceivedAt.UTC(),
		ts,
		ts,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert email: %w", err)
	}

	msg.ID = id
	msg.View = nil
	msg.Category = nil
	msg.Confidence = 0
	msg.CreatedAt = ts
	msg.UpdatedAt = ts
	return true, nil
}

func getEmailByExternalID(ctx context.Context, q sqlx.ExtContext, accountID int64, externalID string) (*models.Email, error) {
	var msg models.Email
	query := q.Rebind(`SELECT * FROM emails WHERE account_id = ? AND external_id = ?`)
	err := sqlx.GetContext(ctx, q, &msg, query, accountID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &msg, nil
}

// GetEmailByExternalID returns a message by its dedup key
func (db *DB) GetEmailByExternalID(ctx context.Context, accountID int64, externalID string) (*models.Email, error) {
	return getEmailByExternalID(ctx, db, accountID, externalID)
}

// GetEmailForUser returns a message only if it belongs to one of userID's accounts
func (db *DB) GetEmailForUser(ctx context.Context, userID, id int64) (*models.Email, error) {
	var msg models.Email
	query := db.Rebind(`
		SELECT e.* FROM emails e
		JOIN email_accounts a ON e.account_id = a.id
		WHERE e.id = ? AND a.user_id = ?
	`)
	err := db.GetContext(ctx, &msg, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &msg, nil
}

// ListEmailsByView returns a user's messages in a view, newest first
func (db *DB) ListEmailsByView(ctx context.Context, userID int64, view models.View, limit, offset int) ([]*models.Email, error) {
	var emails []*models.Email
	query := db.Rebind(`
		SELECT e.* FROM emails e
		JOIN email_accounts a ON e.account_id = a.id
		WHERE a.user_id = ? AND e.view = ? AND e.is_archived = ?
		ORDER BY e.received_at DESC, e.id DESC
		LIMIT ? OFFSET ?
	`)
	if err := db.SelectContext(ctx, &emails, query, userID, view, false, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

// ListUnclassified returns an account's messages that still have no view
func (db *DB) ListUnclassified(ctx context.Context, accountID int64, limit int) ([]*models.Email, error) {
	var emails []*models.Email
	query := db.Rebind(`SELECT * FROM emails WHERE account_id = ? AND view IS NULL ORDER BY id ASC LIMIT ?`)
	if err := db.SelectContext(ctx, &emails, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list unclassified emails: %w", err)
	}
	return emails, nil
}

// ListPendingBySender returns a user's pending messages from sender
func (db *DB) ListPendingBySender(ctx context.Context, userID int64, sender string) ([]*models.Email, error) {
	var emails []*models.Email
	query := db.Rebind(`
		SELECT e.* FROM emails e
		JOIN email_accounts a ON e.account_id = a.id
		WHERE a.user_id = ? AND e.sender = ? AND e.screening_status = ?
		ORDER BY e.id ASC
	`)
	if err := db.SelectContext(ctx, &emails, query, userID, sender, models.ScreeningPending); err != nil {
		return nil, fmt.Errorf("failed to list pending emails: %w", err)
	}
	return emails, nil
}

// SenderKnown reports whether the user already has a message from sender that
// made it past pending screening
func (db *DB) SenderKnown(ctx context.Context, userID int64, sender string) (bool, error) {
	var count int
	query := db.Rebind(`
		SELECT COUNT(*) FROM emails e
		JOIN email_accounts a ON e.account_id = a.id
		WHERE a.user_id = ? AND e.sender = ? AND e.screening_status != ?
	`)
	if err := db.GetContext(ctx, &count, query, userID, sender, models.ScreeningPending); err != nil {
		return false, fmt.Errorf("failed to check sender: %w", err)
	}
	return count > 0, nil
}

// SetClassification stores the classifier result for a message
func (db *DB) SetClassification(ctx context.Context, id int64, view models.View, category models.Category, confidence float64, status models.ScreeningStatus) error {
	query := db.Rebind(`
		UPDATE emails SET view = ?, category = ?, confidence = ?, screening_status = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := db.ExecContext(ctx, query, view, category, confidence, status, now(), id)
	if err != nil {
		return fmt.Errorf("failed to set classification: %w", err)
	}
	return nil
}

// MarkEmailAsRead marks a message as read
func (db *DB) MarkEmailAsRead(ctx context.Context, id int64) error {
	query := db.Rebind(`UPDATE emails SET is_read = ?, updated_at = ? WHERE id = ?`)
	_, err := db.ExecContext(ctx, query, true, now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark email as read: %w", err)
	}
	return nil
}

// CountEmails returns the number of stored messages of an account
func (db *DB) CountEmails(ctx context.Context, accountID int64) (int, error) {
	var count int
	query := db.Rebind(`SELECT COUNT(*) FROM emails WHERE account_id = ?`)
	if err := db.GetContext(ctx, &count, query, accountID); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}
