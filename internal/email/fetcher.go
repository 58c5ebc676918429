package email

import (
	"context"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Address represents an email address
type Address struct {
	Name    string
	Address string
}

// RawMessage is a provider message normalized for ingestion. It is never persisted as is.
type RawMessage struct {
	ExternalID     string // Stable per account; dedup key
	ThreadID       string
	From           Address
	To             []Address
	Cc             []Address
	Subject        string
	BodyText       string
	BodyHTML       string
	Folder         string
	Date           time.Time
	Size           int64
	HasAttachments bool
	IsRead         bool
	IsStarred      bool
}

// MessageRef points at a message on the provider side
type MessageRef struct {
	ID  string // Provider native id (Gmail/Graph id, or IMAP UID as text)
	UID uint32 // IMAP only
}

// ParseFailure a message that was listed but could not be decoded
type ParseFailure struct {
	Ref MessageRef
	Err error
}

// FetchResult messages fetched in one call. Failures do not fail the call.
type FetchResult struct {
	Messages []*RawMessage
	Failures []ParseFailure
}

// Session is an open connection to one account's mailbox.
// A session is used by a single goroutine.
type Session interface {
	// ListRecent returns refs to at most limit of the newest inbox messages, oldest first
	ListRecent(ctx context.Context, limit int) ([]MessageRef, error)
	// Fetch downloads envelope, body and flags for refs
	Fetch(ctx context.Context, refs []MessageRef) (*FetchResult, error)
	// MarkSeen sets the seen flag on the server
	MarkSeen(ctx context.Context, refs []MessageRef) error
	// Disconnect releases the connection and any decrypted credentials
	Disconnect() error
}

// Fetcher opens sessions for one provider kind
type Fetcher interface {
	Connect(ctx context.Context, account *models.EmailAccount) (Session, error)
}

// Secrets decrypts stored credentials on demand and encrypts refreshed ones
type Secrets interface {
	Encrypt(plaintext string) (string, error)
	WithSecret(encrypted string, fn func(plaintext string) error) error
}

// TokenStore persists (encrypted) OAuth tokens refreshed during a session
type TokenStore interface {
	UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error
}
