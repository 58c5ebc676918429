package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailtriage/internal/classifier"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/pkg/models"
)

var (
	// ErrInvalidSender sender is empty or not an address
	ErrInvalidSender = errors.New("invalid sender")

	// ErrInvalidDecision decision is neither allow nor deny
	ErrInvalidDecision = errors.New("invalid decision")
)

// Store persistence needed by the manager
type Store interface {
	UpsertDecision(ctx context.Context, userID int64, sender string, decision models.Decision) (*models.ScreeningDecision, error)
	GetDecision(ctx context.Context, userID int64, sender string) (*models.ScreeningDecision, error)
	ListDecisions(ctx context.Context, userID int64) ([]*models.ScreeningDecision, error)
	UndoScreening(ctx context.Context, userID int64, sender string) (int64, error)
	SenderKnown(ctx context.Context, userID int64, sender string) (bool, error)
	ListPendingBySender(ctx context.Context, userID int64, sender string) ([]*models.Email, error)
	SetClassification(ctx context.Context, id int64, view models.View, category models.Category, confidence float64, status models.ScreeningStatus) error
}

// SenderState what the classifier needs to know about a sender
type SenderState struct {
	Decision *models.Decision
	Known    bool
}

// Manager owns per-sender screening decisions and applies them to classification
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a new screening manager
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With("component", "screening"),
	}
}

// NormalizeSender reduces a From value to its lower-cased bare address.
// "Shop <Orders@Shop.com>" and "orders@shop.com" normalize to the same value.
func NormalizeSender(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")
	return strings.ToLower(strings.TrimSpace(raw))
}

// Lookup returns the decision and screening history for sender
func (m *Manager) Lookup(ctx context.Context, userID int64, sender string) (SenderState, error) {
	var state SenderState

	d, err := m.store.GetDecision(ctx, userID, sender)
	switch {
	case err == nil:
		state.Decision = &d.Decision
	case !errors.Is(err, database.ErrNotFound):
		return state, err
	}

	known, err := m.store.SenderKnown(ctx, userID, sender)
	if err != nil {
		return state, err
	}
	state.Known = known
	return state, nil
}

// ClassifyEmail classifies a stored message for userID and writes the result back
func (m *Manager) ClassifyEmail(ctx context.Context, userID int64, e *models.Email) (classifier.Result, error) {
	state, err := m.Lookup(ctx, userID, e.Sender)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("failed to look up sender: %w", err)
	}

	result := classifier.Classify(classifier.Input{
		Subject:     e.Subject,
		BodyText:    e.BodyText,
		BodyHTML:    e.BodyHTML,
		FromName:    e.FromName,
		FromAddr:    e.FromAddr,
		Decision:    state.Decision,
		SenderKnown: state.Known,
	})

	if err := m.store.SetClassification(ctx, e.ID, result.View, result.Category, result.Confidence, result.ScreeningStatus); err != nil {
		return result, err
	}

	e.View = &result.View
	e.Category = &result.Category
	e.Confidence = result.Confidence
	e.ScreeningStatus = result.ScreeningStatus
	return result, nil
}

// RecordDecision stores the user's decision for sender. With apply set, the sender's
// pending messages are classified again right away; otherwise the decision only
// affects messages processed later. Returns the number of messages reclassified.
func (m *Manager) RecordDecision(ctx context.Context, userID int64, sender string, decision models.Decision, apply bool) (*models.ScreeningDecision, int, error) {
	sender = NormalizeSender(sender)
	if sender == "" {
		return nil, 0, ErrInvalidSender
	}
	if !decision.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	saved, err := m.store.UpsertDecision(ctx, userID, sender, decision)
	if err != nil {
		return nil, 0, err
	}
	m.logger.Info("screening decision recorded", "user_id", userID, "sender", sender, "decision", decision)

	if !apply {
		return saved, 0, nil
	}

	pending, err := m.store.ListPendingBySender(ctx, userID, sender)
	if err != nil {
		return saved, 0, err
	}

	reclassified := 0
	for _, e := range pending {
		if _, err := m.ClassifyEmail(ctx, userID, e); err != nil {
			m.logger.Warn("failed to reclassify email", "email_id", e.ID, "error", err)
			continue
		}
		reclassified++
	}
	return saved, reclassified, nil
}

// Undo deletes the decision for sender and resets all of the user's messages from
// that sender to pending with no view. The next sync classifies them again.
func (m *Manager) Undo(ctx context.Context, userID int64, sender string) (int64, error) {
	sender = NormalizeSender(sender)
	if sender == "" {
		return 0, ErrInvalidSender
	}

	affected, err := m.store.UndoScreening(ctx, userID, sender)
	if err != nil {
		return 0, err
	}

	m.logger.Info("screening undone", "user_id", userID, "sender", sender, "affected", affected)
	return affected, nil
}

// List returns the user's decisions
func (m *Manager) List(ctx context.Context, userID int64) ([]*models.ScreeningDecision, error) {
	return m.store.ListDecisions(ctx, userID)
}
