package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailtriage/pkg/models"
)

const (
	inboxName    = "INBOX"
	maxBodyBytes = 1 << 20
)

// IMAPFetcher opens password authenticated IMAP sessions
type IMAPFetcher struct {
	secrets     Secrets
	dialTimeout time.Duration
	tlsConfig   *tls.Config
	logger      *slog.Logger
}

// NewIMAPFetcher creates a new IMAP fetcher
func NewIMAPFetcher(secrets Secrets, dialTimeout time.Duration, logger *slog.Logger) *IMAPFetcher {
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	return &IMAPFetcher{
		secrets:     secrets,
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "imap"),
	}
}

// Connect dials the account's server, logs in and selects INBOX read-only
func (f *IMAPFetcher) Connect(ctx context.Context, account *models.EmailAccount) (Session, error) {
	if account.IMAPHost == "" {
		return nil, fmt.Errorf("account %d has no IMAP host", account.ID)
	}

	addr := account.IMAPAddr()
	logger := f.logger.With("account_id", account.ID, "server", addr)
	logger.Debug("connecting to IMAP server")

	c, err := f.dial(ctx, addr, account.IMAPTLS)
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to connect: %w", err))
	}

	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	err = f.secrets.WithSecret(account.Secret, func(password string) error {
		return c.Login(account.Email, password)
	})
	if err != nil {
		c.Terminate()
		if ctx.Err() != nil {
			return nil, Classify(fmt.Errorf("login interrupted: %w", ctx.Err()))
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, Classify(fmt.Errorf("failed to login: %w", err))
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	mbox, err := c.Select(inboxName, true)
	if err != nil {
		c.Terminate()
		return nil, Classify(fmt.Errorf("failed to select INBOX: %w", err))
	}

	logger.Debug("connected to IMAP server", "messages", mbox.Messages)
	return &imapSession{client: c, mailbox: mbox, logger: logger}, nil
}

func (f *IMAPFetcher) dial(ctx context.Context, addr string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: f.dialTimeout}

	if useTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: f.tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c, err := client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		return c, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}

	// Upgrade plain connections whenever the server offers it
	if ok, _ := c.SupportStartTLS(); ok {
		host, _, _ := net.SplitHostPort(addr)
		cfg := &tls.Config{ServerName: host}
		if f.tlsConfig != nil {
			cfg = f.tlsConfig.Clone()
		}
		if err := c.StartTLS(cfg); err != nil {
			c.Terminate()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return c, nil
}

type imapSession struct {
	client  *client.Client
	mailbox *imap.MailboxStatus
	logger  *slog.Logger
}

// watch aborts the connection when ctx is cancelled. The returned func must be called
// once the guarded command returns.
func (s *imapSession) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { s.client.Terminate() })
}

func (s *imapSession) ListRecent(ctx context.Context, limit int) ([]MessageRef, error) {
	defer s.watch(ctx)()

	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to search: %w", errors.Join(ctx.Err(), err)))
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	refs := make([]MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, MessageRef{ID: strconv.FormatUint(uint64(uid), 10), UID: uid})
	}
	return refs, nil
}

func (s *imapSession) Fetch(ctx context.Context, refs []MessageRef) (*FetchResult, error) {
	result := &FetchResult{}
	if len(refs) == 0 {
		return result, nil
	}

	defer s.watch(ctx)()

	seqSet := new(imap.SeqSet)
	for _, ref := range refs {
		seqSet.AddNum(ref.UID)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	for msg := range messages {
		raw, err := s.parseMessage(msg, section)
		if err != nil {
			s.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			result.Failures = append(result.Failures, ParseFailure{
				Ref: MessageRef{ID: strconv.FormatUint(uint64(msg.Uid), 10), UID: msg.Uid},
				Err: err,
			})
			continue
		}
		result.Messages = append(result.Messages, raw)
	}

	if err := <-done; err != nil {
		return result, Classify(fmt.Errorf("failed to fetch: %w", errors.Join(ctx.Err(), err)))
	}
	return result, nil
}

// parseMessage maps an IMAP message onto RawMessage
func (s *imapSession) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*RawMessage, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("%w: uid %d has no envelope", ErrParse, msg.Uid)
	}

	raw := &RawMessage{
		ExternalID: normalizeMessageID(msg.Envelope.MessageId),
		Subject:    msg.Envelope.Subject,
		Date:       msg.Envelope.Date,
		Folder:     inboxName,
		Size:       int64(msg.Size),
	}
	if raw.ExternalID == "" {
		// No Message-ID header; UIDs are stable while UIDVALIDITY is
		raw.ExternalID = fmt.Sprintf("%d:%d", s.mailbox.UidValidity, msg.Uid)
	}
	raw.ThreadID = normalizeMessageID(msg.Envelope.InReplyTo)
	if raw.ThreadID == "" {
		raw.ThreadID = raw.ExternalID
	}
	if raw.Date.IsZero() {
		raw.Date = msg.InternalDate
	}

	if len(msg.Envelope.From) > 0 {
		raw.From = toAddress(msg.Envelope.From[0])
	}
	for _, a := range msg.Envelope.To {
		raw.To = append(raw.To, toAddress(a))
	}
	for _, a := range msg.Envelope.Cc {
		raw.Cc = append(raw.Cc, toAddress(a))
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			raw.IsRead = true
		case imap.FlaggedFlag:
			raw.IsStarred = true
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return raw, nil
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	s.readParts(mr, raw)
	return raw, nil
}

// readParts fills text bodies and attachment presence. A broken part ends the walk
// but keeps what was read so far.
func (s *imapSession) readParts(mr *mail.Reader, raw *RawMessage) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("failed to read part", "external_id", raw.ExternalID, "error", err)
			return
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				continue
			}

			if strings.HasPrefix(ct, "text/html") {
				raw.BodyHTML = string(body)
			} else if strings.HasPrefix(ct, "text/plain") || ct == "" {
				raw.BodyText = string(body)
			}
		case *mail.AttachmentHeader:
			raw.HasAttachments = true
		}
	}
}

func (s *imapSession) MarkSeen(ctx context.Context, refs []MessageRef) error {
	if len(refs) == 0 {
		return nil
	}

	defer s.watch(ctx)()

	// The session selects INBOX read-only; STORE needs it writable
	if _, err := s.client.Select(inboxName, false); err != nil {
		return Classify(fmt.Errorf("failed to select INBOX: %w", err))
	}
	defer s.client.Select(inboxName, true)

	seqSet, err := s.resolveUIDs(refs)
	if err != nil {
		return Classify(fmt.Errorf("failed to resolve messages: %w", errors.Join(ctx.Err(), err)))
	}
	if seqSet.Empty() {
		return nil
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return Classify(fmt.Errorf("failed to mark as read: %w", err))
	}
	return nil
}

// resolveUIDs turns refs into a UID set. Refs built from stored rows carry no UID,
// only the external id: either a Message-ID or the "uidvalidity:uid" fallback.
func (s *imapSession) resolveUIDs(refs []MessageRef) (*imap.SeqSet, error) {
	seqSet := new(imap.SeqSet)
	for _, ref := range refs {
		if ref.UID != 0 {
			seqSet.AddNum(ref.UID)
			continue
		}

		if validity, uid, ok := strings.Cut(ref.ID, ":"); ok && validity == strconv.FormatUint(uint64(s.mailbox.UidValidity), 10) {
			if n, err := strconv.ParseUint(uid, 10, 32); err == nil {
				seqSet.AddNum(uint32(n))
				continue
			}
		}

		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", ref.ID)
		uids, err := s.client.UidSearch(criteria)
		if err != nil {
			return nil, err
		}
		if len(uids) == 0 {
			s.logger.Debug("message not found on server", "id", ref.ID)
		}
		seqSet.AddNum(uids...)
	}
	return seqSet, nil
}

// Disconnect logs out, forcing the connection closed if the server is slow to answer
func (s *imapSession) Disconnect() error {
	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
			return err
		}
		return nil
	case <-time.After(2 * time.Second):
		return s.client.Terminate()
	}
}

func toAddress(a *imap.Address) Address {
	return Address{Name: a.PersonalName, Address: a.Address()}
}

// normalizeMessageID strips the angle brackets around a Message-ID
func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}
