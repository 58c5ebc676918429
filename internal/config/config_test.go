package config

import (
	"errors"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoad_Success(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("SYNC_CONCURRENCY", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.CronSecret != "cron-secret" {
		t.Errorf("expected CronSecret to be set, got %s", cfg.CronSecret)
	}
	if cfg.SyncConcurrency != 3 {
		t.Errorf("expected SyncConcurrency 3, got %d", cfg.SyncConcurrency)
	}

	// Check defaults
	if cfg.SyncBatchSize != 50 {
		t.Errorf("expected SyncBatchSize to be 50, got %d", cfg.SyncBatchSize)
	}
	if cfg.StuckThreshold != 30*time.Minute {
		t.Errorf("expected StuckThreshold to be 30m, got %s", cfg.StuckThreshold)
	}
	if cfg.TriggerTimeout != 60*time.Second {
		t.Errorf("expected TriggerTimeout to be 60s, got %s", cfg.TriggerTimeout)
	}
	if cfg.StatusBackend != "memory" {
		t.Errorf("expected StatusBackend memory, got %s", cfg.StatusBackend)
	}
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("JWT_SECRET", "jwt-secret")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ENCRYPTION_KEY is missing, got nil")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			EncryptionKey:   testKey,
			DatabaseDriver:  "sqlite3",
			StatusBackend:   "memory",
			SyncConcurrency: 1,
			SyncBatchSize:   1,

			TriggerTimeout:     60 * time.Second,
			SyncBatchTimeout:   55 * time.Second,
			SyncAccountTimeout: 45 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"short key", func(c *Config) { c.EncryptionKey = "short" }, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"postgres driver", func(c *Config) { c.DatabaseDriver = "pgx" }, false},
		{"unknown backend", func(c *Config) { c.StatusBackend = "memcached" }, true},
		{"redis backend", func(c *Config) { c.StatusBackend = "redis" }, false},
		{"zero concurrency", func(c *Config) { c.SyncConcurrency = 0 }, true},
		{"zero batch", func(c *Config) { c.SyncBatchSize = 0 }, true},
		{"account timeout not below batch timeout", func(c *Config) { c.SyncAccountTimeout = 55 * time.Second }, true},
		{"batch timeout overruns trigger", func(c *Config) { c.SyncBatchTimeout = 58 * time.Second }, true},
		{"longer trigger", func(c *Config) {
			c.TriggerTimeout = 120 * time.Second
			c.SyncBatchTimeout = 100 * time.Second
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
