package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"github.com/mixelka/mailtriage/internal/vault"
	"github.com/mixelka/mailtriage/pkg/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testKey)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	return v
}

// startIMAPServer runs an in-memory IMAP server with user "username"/"password"
// and one seen message (UID 6) in INBOX
func startIMAPServer(t *testing.T) (string, int) {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func imapAccount(t *testing.T, v *vault.Vault, host string, port int, password string) *models.EmailAccount {
	t.Helper()
	secret, err := v.Encrypt(password)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	return &models.EmailAccount{
		ID:       1,
		UserID:   1,
		Email:    "username",
		Provider: models.ProviderIMAP,
		Secret:   secret,
		IMAPHost: host,
		IMAPPort: port,
		IMAPTLS:  false,
	}
}

func TestIMAPFetcher_ListAndFetch(t *testing.T) {
	host, port := startIMAPServer(t)
	v := testVault(t)
	fetcher := NewIMAPFetcher(v, 5*time.Second, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := fetcher.Connect(ctx, imapAccount(t, v, host, port, "password"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer session.Disconnect()

	refs, err := session.ListRecent(ctx, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 1 || refs[0].UID != 6 {
		t.Fatalf("expected one ref with UID 6, got %+v", refs)
	}

	result, err := session.Fetch(ctx, refs)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Errorf("expected no parse failures, got %+v", result.Failures)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}

	msg := result.Messages[0]
	if msg.ExternalID != "0000000@localhost/" {
		t.Errorf("unexpected external id %q", msg.ExternalID)
	}
	if msg.Subject != "A little message, just for you" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.From.Address != "contact@example.org" {
		t.Errorf("unexpected from %q", msg.From.Address)
	}
	if !msg.IsRead {
		t.Error("expected \\Seen to map to IsRead")
	}
	if msg.IsStarred {
		t.Error("expected message not to be starred")
	}
	if msg.BodyText != "Hi there :)" {
		t.Errorf("unexpected body %q", msg.BodyText)
	}
	if msg.Date.IsZero() {
		t.Error("expected a date")
	}
}

func TestIMAPFetcher_ListRecentLimit(t *testing.T) {
	host, port := startIMAPServer(t)
	v := testVault(t)
	fetcher := NewIMAPFetcher(v, 5*time.Second, testLogger())

	session, err := fetcher.Connect(context.Background(), imapAccount(t, v, host, port, "password"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	refs, err := session.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("expected unlimited listing to return 1 ref, got %d", len(refs))
	}
}

func TestIMAPFetcher_MarkSeen(t *testing.T) {
	host, port := startIMAPServer(t)
	v := testVault(t)
	fetcher := NewIMAPFetcher(v, 5*time.Second, testLogger())

	session, err := fetcher.Connect(context.Background(), imapAccount(t, v, host, port, "password"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	if err := session.MarkSeen(context.Background(), []MessageRef{{ID: "6", UID: 6}}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	// Refs built from stored rows only carry the Message-ID
	if err := session.MarkSeen(context.Background(), []MessageRef{{ID: "0000000@localhost/"}}); err != nil {
		t.Fatalf("mark seen by message id: %v", err)
	}
	if err := session.MarkSeen(context.Background(), []MessageRef{{ID: "missing@localhost"}}); err != nil {
		t.Fatalf("mark seen for unknown id: %v", err)
	}
}

func TestIMAPFetcher_WrongPassword(t *testing.T) {
	host, port := startIMAPServer(t)
	v := testVault(t)
	fetcher := NewIMAPFetcher(v, 5*time.Second, testLogger())

	_, err := fetcher.Connect(context.Background(), imapAccount(t, v, host, port, "wrong"))
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestIMAPFetcher_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	l.Close()

	v := testVault(t)
	fetcher := NewIMAPFetcher(v, time.Second, testLogger())

	_, err = fetcher.Connect(context.Background(), imapAccount(t, v, host, port, "password"))
	if !errors.Is(err, ErrNetworkUnreachable) && !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected a transient network error, got %v", err)
	}
}

func TestNormalizeMessageID(t *testing.T) {
	tests := map[string]string{
		"<abc@example.com>":   "abc@example.com",
		" <abc@example.com> ": "abc@example.com",
		"abc@example.com":     "abc@example.com",
		"":                    "",
	}
	for in, want := range tests {
		if got := normalizeMessageID(in); got != want {
			t.Errorf("normalizeMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}
