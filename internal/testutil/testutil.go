// Package testutil holds helpers shared by package tests
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/pkg/models"
)

// NewTestDB creates a migrated SQLite database in a temp dir.
// It automatically closes the database when the test completes.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CreateAccount stores an IMAP account for userID
func CreateAccount(t *testing.T, db *database.DB, userID int64, address string) *models.EmailAccount {
	t.Helper()

	account := &models.EmailAccount{
		UserID:   userID,
		Email:    address,
		Provider: models.ProviderIMAP,
		Secret:   "encrypted",
		IMAPHost: "imap.example.com",
		IMAPTLS:  true,
	}
	if err := db.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return account
}

// StoreEmail upserts a message from sender and returns the stored row
func StoreEmail(t *testing.T, db *database.DB, accountID int64, externalID, sender, subject string) *models.Email {
	t.Helper()

	e, _, err := db.UpsertEmail(context.Background(), &models.Email{
		AccountID:  accountID,
		ExternalID: externalID,
		FromAddr:   sender,
		Sender:     sender,
		Subject:    subject,
		Folder:     "INBOX",
		ReceivedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("storing email: %v", err)
	}
	return e
}
