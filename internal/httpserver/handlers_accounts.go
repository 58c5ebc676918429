package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/mailtriage/pkg/models"
)

const connectionTestTimeout = 30 * time.Second

type accountRequest struct {
	Email        string              `json:"email" binding:"required"`
	Provider     models.ProviderKind `json:"provider" binding:"required"`
	Password     string              `json:"password"`
	IMAPHost     string              `json:"imapHost"`
	IMAPPort     int                 `json:"imapPort"`
	IMAPTLS      *bool               `json:"imapTls"`
	RefreshToken string              `json:"refreshToken"`
	AccessToken  string              `json:"accessToken"`
	ExpiresAt    *time.Time          `json:"expiresAt"`
}

type credentialsRequest struct {
	Password     string     `json:"password"`
	RefreshToken string     `json:"refreshToken"`
	AccessToken  string     `json:"accessToken"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and provider are required"})
		return
	}
	if !req.Provider.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}

	ctx := c.Request.Context()
	account := &models.EmailAccount{
		UserID:   currentUser(c),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Provider: req.Provider,
	}

	if req.Provider == models.ProviderIMAP {
		if req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		account.IMAPHost, account.IMAPPort, account.IMAPTLS = req.IMAPHost, req.IMAPPort, true
		if req.IMAPTLS != nil {
			account.IMAPTLS = *req.IMAPTLS
		}
		if account.IMAPHost == "" {
			host, port, err := s.resolve(ctx, account.Email)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not find the IMAP server, set imapHost"})
				return
			}
			account.IMAPHost, account.IMAPPort = host, port
			if req.IMAPTLS == nil {
				account.IMAPTLS = port == 993
			}
		}
	}

	if err := s.setCredentials(account, credentialsRequest{
		Password:     req.Password,
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
		ExpiresAt:    req.ExpiresAt,
	}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.testConnection(ctx, account); err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("account connected", "user_id", account.UserID, "account_id", account.ID, "provider", account.Provider)
	c.JSON(http.StatusCreated, gin.H{"account": account})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccountsByUser(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if accounts == nil {
		accounts = []*models.EmailAccount{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// handleDeleteAccount soft-disables the account; stored messages are kept
func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	account, err := s.store.GetAccountForUser(ctx, currentUser(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.store.SetAccountActive(ctx, account.ID, false); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleUpdateCredentials stores new credentials and clears the re-auth flag
func (s *Server) handleUpdateCredentials(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	account, err := s.store.GetAccountForUser(ctx, currentUser(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.setCredentials(account, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.testConnection(ctx, account); err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.store.UpdateCredentials(ctx, account.ID, account.Secret, account.AccessToken, account.TokenExpiresAt); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// setCredentials encrypts the secrets that apply to the account's provider
func (s *Server) setCredentials(account *models.EmailAccount, req credentialsRequest) error {
	if !account.Provider.IsOAuth() {
		if req.Password == "" {
			return fmt.Errorf("password is required")
		}
		secret, err := s.secrets.Encrypt(req.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		account.Secret = secret
		return nil
	}

	if req.RefreshToken == "" {
		return fmt.Errorf("refreshToken is required")
	}
	secret, err := s.secrets.Encrypt(req.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	account.Secret = secret

	account.AccessToken = ""
	if req.AccessToken != "" {
		access, err := s.secrets.Encrypt(req.AccessToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		account.AccessToken = access
	}
	account.TokenExpiresAt = req.ExpiresAt
	return nil
}

// testConnection logs in to IMAP servers before credentials are stored. OAuth
// tokens are checked by the first sync.
func (s *Server) testConnection(ctx context.Context, account *models.EmailAccount) error {
	if account.Provider != models.ProviderIMAP {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()
	return s.tester.TestConnection(ctx, account)
}
