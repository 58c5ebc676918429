package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/mixelka/mailtriage/pkg/models"
)

const (
	graphBaseURL  = "https://graph.microsoft.com/v1.0"
	graphPageSize = 50
	graphSelect   = "id,conversationId,subject,from,toRecipients,ccRecipients,body,receivedDateTime,isRead,flag,hasAttachments"
)

// MicrosoftFetcher polls the Microsoft Graph mail API with OAuth tokens
type MicrosoftFetcher struct {
	tokens  *oauthTokens
	baseURL string
	logger  *slog.Logger
}

// NewMicrosoftFetcher creates a Graph fetcher for tenant ("common" for personal + work accounts)
func NewMicrosoftFetcher(clientID, clientSecret, tenant string, secrets Secrets, store TokenStore, logger *slog.Logger) *MicrosoftFetcher {
	logger = logger.With("component", "microsoft")
	return &MicrosoftFetcher{
		tokens: &oauthTokens{
			config: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Endpoint:     microsoft.AzureADEndpoint(tenant),
				Scopes:       []string{"offline_access", "https://graph.microsoft.com/Mail.ReadWrite"},
			},
			secrets: secrets,
			store:   store,
			logger:  logger,
		},
		baseURL: graphBaseURL,
		logger:  logger,
	}
}

// WithEndpoint points the fetcher at a different API and token URL
func (f *MicrosoftFetcher) WithEndpoint(apiURL, tokenURL string) *MicrosoftFetcher {
	f.baseURL = strings.TrimRight(apiURL, "/")
	f.tokens.config.Endpoint = oauth2.Endpoint{TokenURL: tokenURL}
	return f
}

// Connect checks the token against /me
func (f *MicrosoftFetcher) Connect(ctx context.Context, account *models.EmailAccount) (Session, error) {
	ts, err := f.tokens.tokenSource(ctx, account)
	if err != nil {
		return nil, err
	}

	s := &graphSession{
		http:    oauth2.NewClient(ctx, ts),
		baseURL: f.baseURL,
		logger:  f.logger.With("account_id", account.ID),
	}

	if err := s.do(ctx, http.MethodGet, s.baseURL+"/me?$select=id", nil, nil); err != nil {
		return nil, Classify(fmt.Errorf("failed to get profile: %w", err))
	}
	return s, nil
}

type graphSession struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

type graphAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             *graphAddress  `json:"from"`
	ToRecipients     []graphAddress `json:"toRecipients"`
	CcRecipients     []graphAddress `json:"ccRecipients"`
	ReceivedDateTime string         `json:"receivedDateTime"`
	IsRead           bool           `json:"isRead"`
	HasAttachments   bool           `json:"hasAttachments"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Flag struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
}

type graphList struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

func (s *graphSession) ListRecent(ctx context.Context, limit int) ([]MessageRef, error) {
	pageSize := graphPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(pageSize))
	query.Set("$select", "id")
	query.Set("$orderby", "receivedDateTime desc")
	next := s.baseURL + "/me/mailFolders/inbox/messages?" + query.Encode()

	var refs []MessageRef
	for next != "" {
		var page graphList
		if err := s.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, Classify(fmt.Errorf("failed to list messages: %w", err))
		}

		for _, msg := range page.Value {
			refs = append(refs, MessageRef{ID: msg.ID})
			if limit > 0 && len(refs) >= limit {
				break
			}
		}

		if limit > 0 && len(refs) >= limit {
			break
		}
		next = page.NextLink
	}

	// Graph lists newest first
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}
	return refs, nil
}

func (s *graphSession) Fetch(ctx context.Context, refs []MessageRef) (*FetchResult, error) {
	result := &FetchResult{}

	for _, ref := range refs {
		var msg graphMessage
		endpoint := s.baseURL + "/me/messages/" + url.PathEscape(ref.ID) + "?$select=" + graphSelect
		if err := s.do(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
			classified := Classify(err)
			if errors.Is(classified, ErrAuthFailed) || errors.Is(classified, ErrTimeout) || errors.Is(classified, ErrNetworkUnreachable) {
				return result, fmt.Errorf("failed to get message %s: %w", ref.ID, classified)
			}
			s.logger.Warn("failed to get message", "id", ref.ID, "error", err)
			result.Failures = append(result.Failures, ParseFailure{Ref: ref, Err: fmt.Errorf("%w: %w", ErrParse, err)})
			continue
		}

		result.Messages = append(result.Messages, parseGraphMessage(&msg))
	}

	return result, nil
}

func (s *graphSession) MarkSeen(ctx context.Context, refs []MessageRef) error {
	for _, ref := range refs {
		endpoint := s.baseURL + "/me/messages/" + url.PathEscape(ref.ID)
		if err := s.do(ctx, http.MethodPatch, endpoint, map[string]bool{"isRead": true}, nil); err != nil {
			return Classify(fmt.Errorf("failed to mark %s as read: %w", ref.ID, err))
		}
	}
	return nil
}

func (s *graphSession) Disconnect() error {
	s.http.CloseIdleConnections()
	return nil
}

// do sends a JSON request and decodes the response into out when non-nil
func (s *graphSession) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", ErrParse, err)
	}
	return nil
}

func parseGraphMessage(msg *graphMessage) *RawMessage {
	raw := &RawMessage{
		ExternalID:     msg.ID,
		ThreadID:       msg.ConversationID,
		Subject:        msg.Subject,
		Folder:         "INBOX",
		IsRead:         msg.IsRead,
		IsStarred:      msg.Flag.FlagStatus == "flagged",
		HasAttachments: msg.HasAttachments,
	}
	if msg.From != nil {
		raw.From = Address{Name: msg.From.EmailAddress.Name, Address: msg.From.EmailAddress.Address}
	}
	for _, a := range msg.ToRecipients {
		raw.To = append(raw.To, Address{Name: a.EmailAddress.Name, Address: a.EmailAddress.Address})
	}
	for _, a := range msg.CcRecipients {
		raw.Cc = append(raw.Cc, Address{Name: a.EmailAddress.Name, Address: a.EmailAddress.Address})
	}
	if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		raw.Date = t.UTC()
	}

	if strings.EqualFold(msg.Body.ContentType, "html") {
		raw.BodyHTML = msg.Body.Content
	} else {
		raw.BodyText = msg.Body.Content
	}
	raw.Size = int64(len(msg.Body.Content))
	return raw
}
