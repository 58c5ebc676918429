package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Factory picks the fetcher for an account by provider kind.
// New providers are added with Register; nothing else branches on kind.
type Factory struct {
	mu       sync.RWMutex
	fetchers map[models.ProviderKind]Fetcher
	logger   *slog.Logger
}

// NewFactory creates an empty factory
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		fetchers: make(map[models.ProviderKind]Fetcher),
		logger:   logger.With("component", "fetcher_factory"),
	}
}

// Register sets the fetcher used for kind
func (f *Factory) Register(kind models.ProviderKind, fetcher Fetcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchers[kind] = fetcher
}

// For returns the fetcher registered for kind
func (f *Factory) For(kind models.ProviderKind) (Fetcher, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fetcher, ok := f.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return fetcher, nil
}

// Connect opens a session with the fetcher matching the account
func (f *Factory) Connect(ctx context.Context, account *models.EmailAccount) (Session, error) {
	fetcher, err := f.For(account.Provider)
	if err != nil {
		return nil, err
	}
	return fetcher.Connect(ctx, account)
}

// TestConnection connects and disconnects, surfacing auth and network problems
// before an account is stored
func (f *Factory) TestConnection(ctx context.Context, account *models.EmailAccount) error {
	session, err := f.Connect(ctx, account)
	if err != nil {
		return err
	}

	if err := session.Disconnect(); err != nil {
		f.logger.Warn("failed to disconnect after connection test", "email", account.Email, "error", err)
	}
	return nil
}
