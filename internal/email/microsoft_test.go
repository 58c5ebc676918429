package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

func newGraphServer(t *testing.T, patched *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler(t))
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if !requireBearer(t, r, "valid-access") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "me"})
	})

	var srvURL string
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{{"id": "m1"}}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value":           []map[string]string{{"id": "m3"}, {"id": "m2"}},
			"@odata.nextLink": srvURL + "/me/mailFolders/inbox/messages?page=2",
		})
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/me/messages/"):]
		if r.Method == http.MethodPatch {
			patched.Add(1)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":               id,
			"conversationId":   "conv-" + id,
			"subject":          "Weekly digest " + id,
			"from":             map[string]any{"emailAddress": map[string]string{"name": "News", "address": "news@example.com"}},
			"toRecipients":     []map[string]any{{"emailAddress": map[string]string{"address": "user@example.com"}}},
			"receivedDateTime": "2024-05-01T10:00:00Z",
			"isRead":           id == "m1",
			"hasAttachments":   false,
			"flag":             map[string]string{"flagStatus": "flagged"},
			"body":             map[string]string{"contentType": "html", "content": "<p>Hi</p>"},
		})
	})

	srv := httptest.NewServer(mux)
	srvURL = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestMicrosoftFetcher_Paginates(t *testing.T) {
	var patched atomic.Int32
	srv := newGraphServer(t, &patched)
	v := testVault(t)
	store := &mockTokenStore{}

	fetcher := NewMicrosoftFetcher("client", "secret", "common", v, store, testLogger()).
		WithEndpoint(srv.URL, srv.URL+"/token")

	valid := time.Now().Add(time.Hour)
	account := oauthAccount(t, v, models.ProviderMicrosoft, "good-refresh", "valid-access", &valid)

	ctx := context.Background()
	session, err := fetcher.Connect(ctx, account)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	if _, ok := store.last(); ok {
		t.Error("a valid token must not be refreshed")
	}

	refs, err := session.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 3 || refs[0].ID != "m1" || refs[2].ID != "m3" {
		t.Fatalf("expected all pages oldest first, got %+v", refs)
	}

	limited, err := session.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "m3" {
		t.Fatalf("expected only the newest message, got %+v", limited)
	}

	result, err := session.Fetch(ctx, refs)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}

	m1 := result.Messages[0]
	if m1.ExternalID != "m1" || m1.ThreadID != "conv-m1" {
		t.Errorf("unexpected ids %q/%q", m1.ExternalID, m1.ThreadID)
	}
	if !m1.IsRead || !m1.IsStarred {
		t.Errorf("expected m1 read and flagged, got %+v", m1)
	}
	if m1.BodyHTML != "<p>Hi</p>" || m1.BodyText != "" {
		t.Errorf("expected html body, got text=%q html=%q", m1.BodyText, m1.BodyHTML)
	}
	if m1.From.Address != "news@example.com" {
		t.Errorf("unexpected from %+v", m1.From)
	}

	if err := session.MarkSeen(ctx, refs[1:]); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if patched.Load() != 2 {
		t.Errorf("expected 2 PATCH calls, got %d", patched.Load())
	}
}

func TestMicrosoftFetcher_RefreshRejected(t *testing.T) {
	var patched atomic.Int32
	srv := newGraphServer(t, &patched)
	v := testVault(t)

	fetcher := NewMicrosoftFetcher("client", "secret", "common", v, &mockTokenStore{}, testLogger()).
		WithEndpoint(srv.URL, srv.URL+"/token")

	expired := time.Now().Add(-time.Hour)
	account := oauthAccount(t, v, models.ProviderMicrosoft, "revoked-refresh", "old-access", &expired)

	_, err := fetcher.Connect(context.Background(), account)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}
