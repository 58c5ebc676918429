package models

import "time"

// ProviderKind identifies how an account talks to its mail server
type ProviderKind string

const (
	ProviderIMAP      ProviderKind = "imap"
	ProviderGmail     ProviderKind = "oauth-gmail"
	ProviderMicrosoft ProviderKind = "oauth-microsoft"
)

// Valid reports whether k is a known provider kind
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderIMAP, ProviderGmail, ProviderMicrosoft:
		return true
	}
	return false
}

// IsOAuth returns true for token based providers
func (k ProviderKind) IsOAuth() bool {
	return k == ProviderGmail || k == ProviderMicrosoft
}

// AccountStatus sync lifecycle of an account
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountSyncing AccountStatus = "syncing"
	AccountError   AccountStatus = "error"
)

// EmailAccount represents a connected mail account
type EmailAccount struct {
	ID             int64         `db:"id" json:"id"`
	UserID         int64         `db:"user_id" json:"userId"`
	Email          string        `db:"email" json:"email"`
	Provider       ProviderKind  `db:"provider" json:"provider"`
	Secret         string        `db:"secret" json:"-"`       // Encrypted password or refresh token
	AccessToken    string        `db:"access_token" json:"-"` // Encrypted OAuth access token
	TokenExpiresAt *time.Time    `db:"token_expires_at" json:"-"`
	IMAPHost       string        `db:"imap_host" json:"imapHost,omitempty"`
	IMAPPort       int           `db:"imap_port" json:"imapPort,omitempty"`
	IMAPTLS        bool          `db:"imap_tls" json:"imapTls"`
	Status         AccountStatus `db:"status" json:"status"`
	NeedsReauth    bool          `db:"needs_reauth" json:"needsReauth"` // Set on auth failure, cleared by new credentials
	IsActive       bool          `db:"is_active" json:"isActive"`       // Soft-disable flag
	LastSyncAt     *time.Time    `db:"last_sync_at" json:"lastSyncAt"`
	LastSyncError  *string       `db:"last_sync_error" json:"lastSyncError"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
}

// IMAPAddr returns host:port for IMAP accounts
func (a *EmailAccount) IMAPAddr() string {
	port := a.IMAPPort
	if port == 0 {
		if a.IMAPTLS {
			port = 993
		} else {
			port = 143
		}
	}
	return joinHostPort(a.IMAPHost, port)
}
