package email

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mixelka/mailtriage/internal/vault"
	"github.com/mixelka/mailtriage/pkg/models"
)

type savedTokens struct {
	accountID    int64
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

type mockTokenStore struct {
	mu    sync.Mutex
	saved []savedTokens
}

func (m *mockTokenStore) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, savedTokens{accountID, accessToken, refreshToken, expiresAt})
	return nil
}

func (m *mockTokenStore) last() (savedTokens, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return savedTokens{}, false
	}
	return m.saved[len(m.saved)-1], true
}

// tokenHandler answers refresh requests, rejecting refresh tokens other than "good-refresh"
func tokenHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("refresh_token") != "good-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "rotated-refresh",
		})
	}
}

func oauthAccount(t *testing.T, v *vault.Vault, kind models.ProviderKind, refresh, access string, expiresAt *time.Time) *models.EmailAccount {
	t.Helper()
	secret, err := v.Encrypt(refresh)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	account := &models.EmailAccount{
		ID:             7,
		UserID:         1,
		Email:          "user@example.com",
		Provider:       kind,
		Secret:         secret,
		TokenExpiresAt: expiresAt,
	}
	if access != "" {
		account.AccessToken, err = v.Encrypt(access)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
	}
	return account
}

func requireBearer(t *testing.T, r *http.Request, want string) bool {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer "+want {
		t.Errorf("unexpected Authorization header %q", got)
		return false
	}
	return true
}
