package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FinishMargin time left after the batch deadline to record outcomes and write the report
const FinishMargin = 5 * time.Second

// ErrConfiguration marks problems the operator has to fix before anything can run
var ErrConfiguration = errors.New("configuration error")

// Config application configuration
type Config struct {
	// HTTP
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	TriggerTimeout time.Duration `env:"TRIGGER_TIMEOUT" envDefault:"60s"`

	// Database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite3"` // "sqlite3" or "pgx"
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"./data/mailtriage.db"`

	// Sync
	SyncBatchSize      int           `env:"SYNC_BATCH_SIZE" envDefault:"50"`
	SyncConcurrency    int           `env:"SYNC_CONCURRENCY" envDefault:"5"`
	SyncInterval       time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`
	SyncFetchLimit     int           `env:"SYNC_FETCH_LIMIT" envDefault:"50"`
	SyncAccountTimeout time.Duration `env:"SYNC_ACCOUNT_TIMEOUT" envDefault:"45s"`
	SyncBatchTimeout   time.Duration `env:"SYNC_BATCH_TIMEOUT" envDefault:"55s"`
	StuckThreshold     time.Duration `env:"STUCK_THRESHOLD" envDefault:"30m"`
	StuckCheckInterval time.Duration `env:"STUCK_CHECK_INTERVAL" envDefault:"5m"`
	ScheduleInterval   time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"0s"` // 0 = external trigger only

	// Sync status store
	StatusBackend    string        `env:"STATUS_BACKEND" envDefault:"memory"` // "memory" or "redis"
	StatusTTL        time.Duration `env:"STATUS_TTL" envDefault:"24h"`
	StatusStaleAfter time.Duration `env:"STATUS_STALE_AFTER" envDefault:"10m"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`

	// Providers
	IMAPDialTimeout       time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	GoogleClientID        string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string        `env:"GOOGLE_CLIENT_SECRET"`
	MicrosoftClientID     string        `env:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string        `env:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenant       string        `env:"MICROSOFT_TENANT" envDefault:"common"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	CronSecret    string `env:"CRON_SECRET"` // Shared secret for the batch trigger

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// GoogleEnabled returns true if Gmail OAuth refresh is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// MicrosoftEnabled returns true if Microsoft OAuth refresh is configured
func (c *Config) MicrosoftEnabled() bool {
	return c.MicrosoftClientID != "" && c.MicrosoftClientSecret != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("%w: ENCRYPTION_KEY must be exactly 32 bytes, got %d", ErrConfiguration, len(c.EncryptionKey))
	}

	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("%w: unsupported DATABASE_DRIVER %q", ErrConfiguration, c.DatabaseDriver)
	}

	switch c.StatusBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported STATUS_BACKEND %q", ErrConfiguration, c.StatusBackend)
	}

	if c.SyncConcurrency < 1 {
		return fmt.Errorf("%w: SYNC_CONCURRENCY must be at least 1", ErrConfiguration)
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("%w: SYNC_BATCH_SIZE must be at least 1", ErrConfiguration)
	}

	// Accounts start no later than SYNC_ACCOUNT_TIMEOUT before the batch deadline,
	// and the trigger response has to be written before TRIGGER_TIMEOUT
	if c.SyncAccountTimeout >= c.SyncBatchTimeout {
		return fmt.Errorf("%w: SYNC_ACCOUNT_TIMEOUT (%s) must be shorter than SYNC_BATCH_TIMEOUT (%s)",
			ErrConfiguration, c.SyncAccountTimeout, c.SyncBatchTimeout)
	}
	if c.SyncBatchTimeout+FinishMargin > c.TriggerTimeout {
		return fmt.Errorf("%w: SYNC_BATCH_TIMEOUT (%s) plus %s must fit in TRIGGER_TIMEOUT (%s)",
			ErrConfiguration, c.SyncBatchTimeout, FinishMargin, c.TriggerTimeout)
	}

	return nil
}
