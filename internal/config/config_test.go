package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SOURCE_DATABASE_URL", "postgres://sync:pw@db:5432/catalog?sslmode=disable")
	t.Setenv("WOO_URL", "https://shop.example.com/")
	t.Setenv("WOO_CONSUMER_KEY", "ck_test")
	t.Setenv("WOO_CONSUMER_SECRET", "cs_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg := Load()

	assert.Equal(t, "8099", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "https://shop.example.com", cfg.StoreURL)
	assert.Equal(t, cfg.StoreURL, cfg.MediaURL)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 100, cfg.SyncBatchSize)
	assert.Equal(t, 20, cfg.CacheLifespanCycles)
	assert.Equal(t, 6*time.Second, cfg.MediaTimeout)
	assert.Equal(t, "catalog_products", cfg.SourceTable)
	assert.False(t, cfg.AbortOnEmptyRemote)
	assert.True(t, cfg.RunOnStart)
	assert.Equal(t, cfg.SourceDatabaseURL, cfg.JournalDSN())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_INTERVAL", "90s")
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("ABORT_ON_EMPTY_REMOTE_CATALOG", "true")
	t.Setenv("REMOTE_RATE_LIMIT", "2.5")
	t.Setenv("JOURNAL_DATABASE_URL", "postgres://journal")
	t.Setenv("WP_URL", "https://media.example.com/")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.SyncInterval)
	assert.Equal(t, 25, cfg.SyncBatchSize)
	assert.True(t, cfg.AbortOnEmptyRemote)
	assert.Equal(t, 2.5, cfg.RemoteRateLimit)
	assert.Equal(t, "postgres://journal", cfg.JournalDSN())
	assert.Equal(t, "https://media.example.com", cfg.MediaURL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_BATCH_SIZE", "lots")
	t.Setenv("SYNC_INTERVAL", "soon")
	t.Setenv("RUN_ON_START", "maybe")

	cfg := Load()

	assert.Equal(t, 100, cfg.SyncBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
	assert.True(t, cfg.RunOnStart)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing store", mutate: func(c *Config) { c.StoreURL = "" }, wantErr: "WOO_URL"},
		{name: "missing key", mutate: func(c *Config) { c.ConsumerKey = "" }, wantErr: "WOO_CONSUMER_KEY"},
		{
			name: "key from secret manager",
			mutate: func(c *Config) {
				c.ConsumerKey, c.ConsumerSecret = "", ""
				c.GCPProjectID, c.StoreSecretName = "proj", "woo"
			},
		},
		{name: "batch too large", mutate: func(c *Config) { c.SyncBatchSize = 101 }, wantErr: "SYNC_BATCH_SIZE"},
		{name: "zero interval", mutate: func(c *Config) { c.SyncInterval = 0 }, wantErr: "SYNC_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
