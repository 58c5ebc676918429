package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/email"
	"github.com/mixelka/mailtriage/internal/parser"
	"github.com/mixelka/mailtriage/internal/screening"
	"github.com/mixelka/mailtriage/pkg/models"
)

// ErrPersistence a message could not be written to the store
var ErrPersistence = errors.New("persistence failure")

// Outcome what Upsert did with a message
type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
	Skipped   Outcome = "skipped"
)

// Store persistence needed by the persister
type Store interface {
	UpsertEmail(ctx context.Context, msg *models.Email) (*models.Email, database.UpsertOutcome, error)
}

// Result of a single Upsert
type Result struct {
	Email   *models.Email // nil when skipped
	Outcome Outcome
	Reason  string // why the message was skipped
}

// Persister maps fetched messages onto stored emails without creating duplicates
type Persister struct {
	store Store
	html  *parser.HTMLParser
}

// NewPersister creates a new persister
func NewPersister(store Store) *Persister {
	return &Persister{
		store: store,
		html:  parser.NewHTMLParser(),
	}
}

// Upsert stores raw for accountID keyed by its external id. New rows start
// unclassified; existing rows only take the new flags and folder.
func (p *Persister) Upsert(ctx context.Context, accountID int64, raw *email.RawMessage) (Result, error) {
	if strings.TrimSpace(raw.ExternalID) == "" {
		return Result{Outcome: Skipped, Reason: "missing external id"}, nil
	}

	stored, outcome, err := p.store.UpsertEmail(ctx, p.toEmail(accountID, raw))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrPersistence, raw.ExternalID, err)
	}

	switch outcome {
	case database.UpsertCreated:
		return Result{Email: stored, Outcome: Created}, nil
	case database.UpsertUpdated:
		return Result{Email: stored, Outcome: Updated}, nil
	default:
		return Result{Email: stored, Outcome: Unchanged}, nil
	}
}

func (p *Persister) toEmail(accountID int64, raw *email.RawMessage) *models.Email {
	received := raw.Date
	if received.IsZero() {
		received = time.Now()
	}

	return &models.Email{
		AccountID:       accountID,
		ExternalID:      strings.TrimSpace(raw.ExternalID),
		ThreadID:        raw.ThreadID,
		FromAddr:        raw.From.Address,
		FromName:        raw.From.Name,
		Sender:          screening.NormalizeSender(raw.From.Address),
		ToAddrs:         formatAddresses(raw.To),
		CcAddrs:         formatAddresses(raw.Cc),
		Subject:         raw.Subject,
		BodyText:        p.html.PlainText(raw.BodyText, raw.BodyHTML),
		BodyHTML:        raw.BodyHTML,
		Folder:          raw.Folder,
		Size:            raw.Size,
		HasAttachments:  raw.HasAttachments,
		ScreeningStatus: models.ScreeningPending,
		IsRead:          raw.IsRead,
		IsStarred:       raw.IsStarred,
		ReceivedAt:      received,
	}
}

func formatAddresses(addrs []email.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}
