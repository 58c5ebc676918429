package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mixelka/mailtriage/pkg/models"
)

const gmailPageSize = 100

// GmailFetcher polls the Gmail REST API with OAuth tokens
type GmailFetcher struct {
	tokens   *oauthTokens
	endpoint string // Overrides the API base URL, empty for production
	logger   *slog.Logger
}

// NewGmailFetcher creates a Gmail fetcher. clientID/clientSecret are needed to refresh tokens.
func NewGmailFetcher(clientID, clientSecret string, secrets Secrets, store TokenStore, logger *slog.Logger) *GmailFetcher {
	logger = logger.With("component", "gmail")
	return &GmailFetcher{
		tokens: &oauthTokens{
			config: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{gmail.GmailModifyScope},
			},
			secrets: secrets,
			store:   store,
			logger:  logger,
		},
		logger: logger,
	}
}

// WithEndpoint points the fetcher at a different API and token URL
func (f *GmailFetcher) WithEndpoint(apiURL, tokenURL string) *GmailFetcher {
	f.endpoint = apiURL
	f.tokens.config.Endpoint = oauth2.Endpoint{TokenURL: tokenURL}
	return f
}

// Connect builds an API client and checks the token against the profile endpoint
func (f *GmailFetcher) Connect(ctx context.Context, account *models.EmailAccount) (Session, error) {
	ts, err := f.tokens.tokenSource(ctx, account)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if f.endpoint != "" {
		opts = append(opts, option.WithEndpoint(f.endpoint))
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	if _, err := service.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return nil, Classify(fmt.Errorf("failed to get profile: %w", err))
	}

	return &gmailSession{
		service: service,
		logger:  f.logger.With("account_id", account.ID),
	}, nil
}

type gmailSession struct {
	service *gmail.Service
	logger  *slog.Logger
}

func (s *gmailSession) ListRecent(ctx context.Context, limit int) ([]MessageRef, error) {
	var (
		refs      []MessageRef
		pageToken string
	)

	for {
		pageSize := gmailPageSize
		if limit > 0 && limit-len(refs) < pageSize {
			pageSize = limit - len(refs)
		}

		call := s.service.Users.Messages.List("me").LabelIds("INBOX").MaxResults(int64(pageSize)).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, Classify(fmt.Errorf("failed to list messages: %w", err))
		}

		for _, msg := range resp.Messages {
			refs = append(refs, MessageRef{ID: msg.Id})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || (limit > 0 && len(refs) >= limit) {
			break
		}
	}

	// Gmail lists newest first
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}
	return refs, nil
}

func (s *gmailSession) Fetch(ctx context.Context, refs []MessageRef) (*FetchResult, error) {
	result := &FetchResult{}

	for _, ref := range refs {
		msg, err := s.service.Users.Messages.Get("me", ref.ID).Format("full").Context(ctx).Do()
		if err != nil {
			classified := Classify(err)
			if errors.Is(classified, ErrAuthFailed) || errors.Is(classified, ErrTimeout) || errors.Is(classified, ErrNetworkUnreachable) {
				return result, fmt.Errorf("failed to get message %s: %w", ref.ID, classified)
			}
			s.logger.Warn("failed to get message", "id", ref.ID, "error", err)
			result.Failures = append(result.Failures, ParseFailure{Ref: ref, Err: fmt.Errorf("%w: %w", ErrParse, err)})
			continue
		}

		raw, err := parseGmailMessage(msg)
		if err != nil {
			s.logger.Warn("failed to parse message", "id", ref.ID, "error", err)
			result.Failures = append(result.Failures, ParseFailure{Ref: ref, Err: err})
			continue
		}
		result.Messages = append(result.Messages, raw)
	}

	return result, nil
}

func (s *gmailSession) MarkSeen(ctx context.Context, refs []MessageRef) error {
	if len(refs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}

	req := &gmail.BatchModifyMessagesRequest{Ids: ids, RemoveLabelIds: []string{"UNREAD"}}
	if err := s.service.Users.Messages.BatchModify("me", req).Context(ctx).Do(); err != nil {
		return Classify(fmt.Errorf("failed to mark as read: %w", err))
	}
	return nil
}

func (s *gmailSession) Disconnect() error {
	s.service = nil
	return nil
}

// parseGmailMessage maps a full-format Gmail message onto RawMessage
func parseGmailMessage(msg *gmail.Message) (*RawMessage, error) {
	if msg.Payload == nil {
		return nil, fmt.Errorf("%w: message %s has no payload", ErrParse, msg.Id)
	}

	raw := &RawMessage{
		ExternalID: msg.Id,
		ThreadID:   msg.ThreadId,
		Folder:     "INBOX",
		Size:       msg.SizeEstimate,
		IsRead:     true,
	}
	if msg.InternalDate > 0 {
		raw.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
			raw.IsRead = false
		case "STARRED":
			raw.IsStarred = true
		}
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "subject":
			raw.Subject = header.Value
		case "from":
			if addr, err := mail.ParseAddress(header.Value); err == nil {
				raw.From = Address{Name: addr.Name, Address: addr.Address}
			} else {
				raw.From = Address{Address: strings.TrimSpace(header.Value)}
			}
		case "to":
			raw.To = parseAddressList(header.Value)
		case "cc":
			raw.Cc = parseAddressList(header.Value)
		}
	}

	walkGmailParts(msg.Payload, raw)
	return raw, nil
}

func walkGmailParts(part *gmail.MessagePart, raw *RawMessage) {
	if part.Filename != "" {
		raw.HasAttachments = true
	} else if part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && raw.BodyText == "":
				raw.BodyText = decoded
			case strings.HasPrefix(part.MimeType, "text/html") && raw.BodyHTML == "":
				raw.BodyHTML = decoded
			}
		}
	}

	for _, child := range part.Parts {
		walkGmailParts(child, raw)
	}
}

// decodeBase64URL accepts both padded and unpadded base64url
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func parseAddressList(value string) []Address {
	list, err := mail.ParseAddressList(value)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}
