package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http": "www.example:9000",
		"database_dsn":       "postgres://example/sync",
		"remote_base_url":    "https://tracker.example",
		"remote_token":       "token123",
		"remote_timeout":     "45s",
		"s3_root_user":       "user",
		"s3_root_password":   "password",
		"s3_bucket":          "bucket",
		"s3_region":          "region",
		"s3_base_endpoint":   "base_endpoint",
		"workers":            8,
		"poll_interval":      "2s",
		"session_ttl":        "12h",
		"sweep_interval":     "1m",
		"dedup_scope":        "global",
		"backoff_base":       "10s",
		"backoff_cap":        "5m",

		"webhook_callback_url": "https://sync.example/webhook",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "postgres://example/sync", cfg.DatabaseDSN)
		assert.Equal(t, "https://tracker.example", cfg.RemoteBaseURL)
		assert.Equal(t, "token123", cfg.RemoteToken)
		assert.Equal(t, 45*time.Second, cfg.RemoteTimeout)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, 8, cfg.Workers)
		assert.Equal(t, 2*time.Second, cfg.PollInterval)
		assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
		assert.Equal(t, 1*time.Minute, cfg.SweepInterval)
		assert.Equal(t, "global", cfg.DedupScope)
		assert.Equal(t, 10*time.Second, cfg.BackoffBase)
		assert.Equal(t, 5*time.Minute, cfg.BackoffCap)
		assert.Equal(t, "https://sync.example/webhook", cfg.WebhookCallbackURL)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP: "defaults:1234",
			DatabaseDSN:      "postgres://defaults/sync",
			RemoteBaseURL:    "https://defaults.example",
			Workers:          2,
			SessionTTL:       6 * time.Hour,
			DedupScope:       "work_item",
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "postgres://defaults/sync", cfg.DatabaseDSN)
		assert.Equal(t, "https://defaults.example", cfg.RemoteBaseURL)
		assert.Equal(t, 2, cfg.Workers)
		assert.Equal(t, 6*time.Hour, cfg.SessionTTL)
		assert.Equal(t, "work_item", cfg.DedupScope)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
