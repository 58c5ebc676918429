package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/mixelka/mailtriage/pkg/models"
)

// tokenEarlyExpiry refresh access tokens that expire within this window
const tokenEarlyExpiry = 5 * time.Minute

// oauthTokens builds token sources for OAuth accounts. Refreshed tokens are
// re-encrypted and written back through the TokenStore.
type oauthTokens struct {
	config  *oauth2.Config
	secrets Secrets
	store   TokenStore
	logger  *slog.Logger
}

// tokenSource decrypts the account's tokens and returns a source that refreshes
// transparently. The plaintext lives only as long as the returned source.
func (o *oauthTokens) tokenSource(ctx context.Context, account *models.EmailAccount) (oauth2.TokenSource, error) {
	var refreshToken, accessToken string

	if err := o.secrets.WithSecret(account.Secret, func(plaintext string) error {
		refreshToken = plaintext
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: refresh token unavailable: %w", ErrAuthFailed, err)
	}

	if account.AccessToken != "" {
		if err := o.secrets.WithSecret(account.AccessToken, func(plaintext string) error {
			accessToken = plaintext
			return nil
		}); err != nil {
			// A broken access token is recoverable through the refresh token
			o.logger.Warn("failed to decrypt access token", "account_id", account.ID, "error", err)
		}
	}

	current := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if account.TokenExpiresAt != nil {
		current.Expiry = *account.TokenExpiresAt
	} else {
		// Unknown expiry, assume expired
		current.Expiry = time.Now().Add(-time.Minute)
	}

	refresher := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	persisting := &persistingTokenSource{
		base:      refresher,
		accountID: account.ID,
		owner:     o,
	}
	return oauth2.ReuseTokenSourceWithExpiry(current, persisting, tokenEarlyExpiry), nil
}

// persistingTokenSource saves every token the refresher hands out
type persistingTokenSource struct {
	base      oauth2.TokenSource
	accountID int64
	owner     *oauthTokens
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	if err := s.owner.save(s.accountID, tok); err != nil {
		// The sync can go on with the new token; the next run refreshes again
		s.owner.logger.Warn("failed to persist refreshed token", "account_id", s.accountID, "error", err)
	} else {
		s.owner.logger.Info("token refreshed", "account_id", s.accountID, "expires_at", tok.Expiry)
	}
	return tok, nil
}

func (o *oauthTokens) save(accountID int64, tok *oauth2.Token) error {
	if o.store == nil {
		return nil
	}

	access, err := o.secrets.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := o.secrets.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.store.UpdateTokens(ctx, accountID, access, refresh, tok.Expiry)
}
