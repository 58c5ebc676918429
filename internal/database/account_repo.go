package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// CreateAccount creates a new email account
func (db *DB) CreateAccount(ctx context.Context, account *models.EmailAccount) error {
	query := db.Rebind(`
		INSERT INTO email_accounts (user_id, email, provider, secret, access_token, token_expires_at,
			imap_host, imap_port, imap_tls, status, needs_reauth, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	ts := now()
	if account.Status == "" {
		account.Status = models.AccountActive
	}

	var id int64
	err := db.QueryRowxContext(ctx, query,
		account.UserID,
		account.Email,
		account.Provider,
		account.Secret,
		account.AccessToken,
		account.TokenExpiresAt,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPTLS,
		account.Status,
		false,
		true,
		ts,
		ts,
	).Scan(&id)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.ID = id
	account.IsActive = true
	account.NeedsReauth = false
	account.CreatedAt = ts
	account.UpdatedAt = ts
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := db.Rebind(`SELECT * FROM email_accounts WHERE id = ?`)
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetAccountForUser returns an account only if it belongs to userID
func (db *DB) GetAccountForUser(ctx context.Context, userID, id int64) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := db.Rebind(`SELECT * FROM email_accounts WHERE id = ? AND user_id = ?`)
	err := db.GetContext(ctx, &account, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccountsByUser returns all accounts of a user
func (db *DB) ListAccountsByUser(ctx context.Context, userID int64) ([]*models.EmailAccount, error) {
	var accounts []*models.EmailAccount
	query := db.Rebind(`SELECT * FROM email_accounts WHERE user_id = ? ORDER BY created_at DESC, id DESC`)
	err := db.SelectContext(ctx, &accounts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// ListDueAccounts returns active accounts that are not syncing and were last synced
// before cutoff (or never). Never-synced accounts come first.
func (db *DB) ListDueAccounts(ctx context.Context, cutoff time.Time, limit int) ([]*models.EmailAccount, error) {
	var accounts []*models.EmailAccount
	query := db.Rebind(`
		SELECT * FROM email_accounts
		WHERE is_active = ? AND needs_reauth = ? AND status != ?
		  AND (last_sync_at IS NULL OR last_sync_at < ?)
		ORDER BY (last_sync_at IS NOT NULL), last_sync_at ASC, id ASC
		LIMIT ?
	`)
	err := db.SelectContext(ctx, &accounts, query, true, false, models.AccountSyncing, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due accounts: %w", err)
	}
	return accounts, nil
}

// MarkSyncing moves an account into syncing. Returns false if another run already owns it.
func (db *DB) MarkSyncing(ctx context.Context, id int64) (bool, error) {
	query := db.Rebind(`
		UPDATE email_accounts SET status = ?, last_sync_at = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`)
	ts := now()
	result, err := db.ExecContext(ctx, query, models.AccountSyncing, ts, ts, id, models.AccountSyncing)
	if err != nil {
		return false, fmt.Errorf("failed to mark account syncing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// CompleteSync records a successful sync
func (db *DB) CompleteSync(ctx context.Context, id int64) error {
	query := db.Rebind(`
		UPDATE email_accounts SET status = ?, last_sync_at = ?, last_sync_error = NULL, updated_at = ?
		WHERE id = ?
	`)
	ts := now()
	_, err := db.ExecContext(ctx, query, models.AccountActive, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync: %w", err)
	}
	return nil
}

// FailSync records a failed sync. needsReauth keeps the account out of
// scheduled batches until new credentials are stored.
func (db *DB) FailSync(ctx context.Context, id int64, syncErr string, needsReauth bool) error {
	query := db.Rebind(`
		UPDATE email_accounts SET status = ?, last_sync_at = ?, last_sync_error = ?, needs_reauth = ?, updated_at = ?
		WHERE id = ?
	`)
	ts := now()
	_, err := db.ExecContext(ctx, query, models.AccountError, ts, syncErr, needsReauth, ts, id)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return nil
}

// ResetStuckAccounts moves accounts that have been syncing since before olderThan to error
func (db *DB) ResetStuckAccounts(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	query := db.Rebind(`
		UPDATE email_accounts SET status = ?, last_sync_error = ?, updated_at = ?
		WHERE status = ? AND (last_sync_at IS NULL OR last_sync_at < ?)
	`)
	result, err := db.ExecContext(ctx, query, models.AccountError, reason, now(), models.AccountSyncing, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck accounts: %w", err)
	}
	return result.RowsAffected()
}

// ResetSyncingForUser moves a user's syncing accounts back to active.
// accountID narrows the reset to one account when non-nil.
func (db *DB) ResetSyncingForUser(ctx context.Context, userID int64, accountID *int64) (int64, error) {
	query := `UPDATE email_accounts SET status = ?, updated_at = ? WHERE user_id = ? AND status = ?`
	args := []any{models.AccountActive, now(), userID, models.AccountSyncing}
	if accountID != nil {
		query += ` AND id = ?`
		args = append(args, *accountID)
	}

	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset syncing accounts: %w", err)
	}
	return result.RowsAffected()
}

// UpdateTokens stores refreshed (already encrypted) OAuth tokens
func (db *DB) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := db.Rebind(`
		UPDATE email_accounts SET access_token = ?, secret = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt.UTC(), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the stored secret and clears the re-auth flag
func (db *DB) UpdateCredentials(ctx context.Context, id int64, secret, accessToken string, expiresAt *time.Time) error {
	query := db.Rebind(`
		UPDATE email_accounts
		SET secret = ?, access_token = ?, token_expires_at = ?, needs_reauth = ?, status = ?, last_sync_error = NULL, updated_at = ?
		WHERE id = ?
	`)
	_, err := db.ExecContext(ctx, query, secret, accessToken, expiresAt, false, models.AccountActive, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return nil
}

// SetAccountActive sets the active status of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := db.Rebind(`UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE id = ?`)
	_, err := db.ExecContext(ctx, query, active, now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}
