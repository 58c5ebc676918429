package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

func newGmailServer(t *testing.T, marked *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler(t))
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r, "fresh-access")
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "user@example.com"})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("labelIds") != "INBOX" {
			t.Errorf("expected INBOX label filter, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "g2"}, {"id": "g1"}, {"id": "broken"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/g1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gmailFixture("g1", "Your receipt", []string{"INBOX", "STARRED"}))
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/g2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gmailFixture("g2", "Hello", []string{"INBOX", "UNREAD"}))
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 404, "message": "not found"}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/unavailable", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 503, "message": "backend error"}})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/batchModify", func(w http.ResponseWriter, r *http.Request) {
		marked.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func gmailFixture(id, subject string, labels []string) map[string]any {
	body := base64.URLEncoding.EncodeToString([]byte("plain body of " + id))
	return map[string]any{
		"id":           id,
		"threadId":     "t-" + id,
		"labelIds":     labels,
		"internalDate": "1714557600000",
		"sizeEstimate": 1234,
		"payload": map[string]any{
			"mimeType": "multipart/alternative",
			"headers": []map[string]string{
				{"name": "Subject", "value": subject},
				{"name": "From", "value": "Shop <Orders@Shop.com>"},
				{"name": "To", "value": "user@example.com"},
			},
			"parts": []map[string]any{
				{"mimeType": "text/plain", "body": map[string]any{"data": body}},
				{"mimeType": "application/pdf", "filename": "invoice.pdf", "body": map[string]any{"attachmentId": "a1"}},
			},
		},
	}
}

func TestGmailFetcher_RefreshesAndFetches(t *testing.T) {
	var marked atomic.Int32
	srv := newGmailServer(t, &marked)
	v := testVault(t)
	store := &mockTokenStore{}

	fetcher := NewGmailFetcher("client", "secret", v, store, testLogger()).
		WithEndpoint(srv.URL+"/", srv.URL+"/token")

	expired := time.Now().Add(-time.Hour)
	account := oauthAccount(t, v, models.ProviderGmail, "good-refresh", "stale-access", &expired)

	ctx := context.Background()
	session, err := fetcher.Connect(ctx, account)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	saved, ok := store.last()
	if !ok {
		t.Fatal("expected refreshed token to be persisted")
	}
	if saved.accountID != account.ID {
		t.Errorf("saved tokens for account %d, want %d", saved.accountID, account.ID)
	}
	if plain, _ := v.Decrypt(saved.accessToken); plain != "fresh-access" {
		t.Errorf("expected stored access token to be the refreshed one, got %q", plain)
	}
	if plain, _ := v.Decrypt(saved.refreshToken); plain != "rotated-refresh" {
		t.Errorf("expected rotated refresh token, got %q", plain)
	}

	refs, err := session.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 3 || refs[0].ID != "broken" || refs[2].ID != "g2" {
		t.Fatalf("expected oldest-first refs, got %+v", refs)
	}

	result, err := session.Fetch(ctx, refs)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Failures) != 1 || result.Failures[0].Ref.ID != "broken" {
		t.Errorf("expected the missing message to be a skipped failure, got %+v", result.Failures)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}

	g1 := result.Messages[0]
	if g1.ExternalID != "g1" || g1.ThreadID != "t-g1" {
		t.Errorf("unexpected ids %q/%q", g1.ExternalID, g1.ThreadID)
	}
	if !g1.IsRead || !g1.IsStarred {
		t.Errorf("expected g1 read and starred, got read=%v starred=%v", g1.IsRead, g1.IsStarred)
	}
	if g1.From.Address != "Orders@Shop.com" || g1.From.Name != "Shop" {
		t.Errorf("unexpected from %+v", g1.From)
	}
	if g1.BodyText != "plain body of g1" {
		t.Errorf("unexpected body %q", g1.BodyText)
	}
	if !g1.HasAttachments {
		t.Error("expected attachment to be detected")
	}
	if result.Messages[1].IsRead {
		t.Error("expected UNREAD label to map to unread")
	}

	if err := session.MarkSeen(ctx, refs[1:]); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if marked.Load() != 1 {
		t.Errorf("expected one batchModify call, got %d", marked.Load())
	}
}

func TestGmailFetcher_RefreshRejected(t *testing.T) {
	var marked atomic.Int32
	srv := newGmailServer(t, &marked)
	v := testVault(t)

	fetcher := NewGmailFetcher("client", "secret", v, &mockTokenStore{}, testLogger()).
		WithEndpoint(srv.URL+"/", srv.URL+"/token")

	account := oauthAccount(t, v, models.ProviderGmail, "revoked-refresh", "", nil)

	_, err := fetcher.Connect(context.Background(), account)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestGmailFetcher_OutageFailsAccount(t *testing.T) {
	var marked atomic.Int32
	srv := newGmailServer(t, &marked)
	v := testVault(t)

	fetcher := NewGmailFetcher("client", "secret", v, &mockTokenStore{}, testLogger()).
		WithEndpoint(srv.URL+"/", srv.URL+"/token")

	expired := time.Now().Add(-time.Hour)
	account := oauthAccount(t, v, models.ProviderGmail, "good-refresh", "stale-access", &expired)

	ctx := context.Background()
	session, err := fetcher.Connect(ctx, account)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	result, err := session.Fetch(ctx, []MessageRef{{ID: "g1"}, {ID: "unavailable"}, {ID: "g2"}})
	if !errors.Is(err, ErrNetworkUnreachable) {
		t.Fatalf("expected ErrNetworkUnreachable, got %v", err)
	}
	if len(result.Failures) != 0 {
		t.Errorf("an outage must not be recorded as parse failures, got %+v", result.Failures)
	}
}
