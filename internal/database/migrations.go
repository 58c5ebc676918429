package database

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    email TEXT NOT NULL,
    provider TEXT NOT NULL,
    secret TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL DEFAULT '',
    token_expires_at DATETIME,
    imap_host TEXT NOT NULL DEFAULT '',
    imap_port INTEGER NOT NULL DEFAULT 0,
    imap_tls BOOLEAN NOT NULL DEFAULT true,
    status TEXT NOT NULL DEFAULT 'active',
    needs_reauth BOOLEAN NOT NULL DEFAULT false,
    is_active BOOLEAN NOT NULL DEFAULT true,
    last_sync_at DATETIME,
    last_sync_error TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE(user_id, email)
)`,
	`CREATE TABLE IF NOT EXISTS emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL REFERENCES email_accounts(id),
    external_id TEXT NOT NULL,
    thread_id TEXT NOT NULL DEFAULT '',
    from_addr TEXT NOT NULL DEFAULT '',
    from_name TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL DEFAULT '',
    to_addrs TEXT NOT NULL DEFAULT '',
    cc_addrs TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body_text TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    folder TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    has_attachments BOOLEAN NOT NULL DEFAULT false,
    view TEXT,
    category TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    screening_status TEXT NOT NULL DEFAULT 'pending',
    is_read BOOLEAN NOT NULL DEFAULT false,
    is_starred BOOLEAN NOT NULL DEFAULT false,
    is_archived BOOLEAN NOT NULL DEFAULT false,
    received_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE(account_id, external_id)
)`,
	`CREATE TABLE IF NOT EXISTS screening_decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    sender TEXT NOT NULL,
    decision TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE(user_id, sender)
)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user ON email_accounts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_due ON email_accounts(status, last_sync_at)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_account_view ON emails(account_id, view)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    email TEXT NOT NULL,
    provider TEXT NOT NULL,
    secret TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL DEFAULT '',
    token_expires_at TIMESTAMPTZ,
    imap_host TEXT NOT NULL DEFAULT '',
    imap_port INTEGER NOT NULL DEFAULT 0,
    imap_tls BOOLEAN NOT NULL DEFAULT true,
    status TEXT NOT NULL DEFAULT 'active',
    needs_reauth BOOLEAN NOT NULL DEFAULT false,
    is_active BOOLEAN NOT NULL DEFAULT true,
    last_sync_at TIMESTAMPTZ,
    last_sync_error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(user_id, email)
)`,
	`CREATE TABLE IF NOT EXISTS emails (
    id BIGSERIAL PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES email_accounts(id),
    external_id TEXT NOT NULL,
    thread_id TEXT NOT NULL DEFAULT '',
    from_addr TEXT NOT NULL DEFAULT '',
    from_name TEXT NOT NULL DEFAULT '',
    sender TEXT NOT NULL DEFAULT '',
    to_addrs TEXT NOT NULL DEFAULT '',
    cc_addrs TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body_text TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    folder TEXT NOT NULL DEFAULT '',
    size BIGINT NOT NULL DEFAULT 0,
    has_attachments BOOLEAN NOT NULL DEFAULT false,
    view TEXT,
    category TEXT,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    screening_status TEXT NOT NULL DEFAULT 'pending',
    is_read BOOLEAN NOT NULL DEFAULT false,
    is_starred BOOLEAN NOT NULL DEFAULT false,
    is_archived BOOLEAN NOT NULL DEFAULT false,
    received_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(account_id, external_id)
)`,
	`CREATE TABLE IF NOT EXISTS screening_decisions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    sender TEXT NOT NULL,
    decision TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(user_id, sender)
)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user ON email_accounts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_due ON email_accounts(status, last_sync_at)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_account_view ON emails(account_id, view)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender)`,
}
