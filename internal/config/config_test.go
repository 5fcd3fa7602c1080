package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/slab-market/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.Refresh.MinDelay)
	assert.Equal(t, 5*time.Second, cfg.Refresh.MaxDelay)
	assert.Equal(t, 50, cfg.Marketplace.MaxResults)
	assert.Equal(t, 30, cfg.RateLimit.ReadPerMinute)
	assert.Equal(t, 5, cfg.RateLimit.PurgePerMinute)
	assert.True(t, cfg.Refresh.AutoOnEmpty)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SLAB_MARKET_CACHE_TTL", "90s")
	t.Setenv("SLAB_MARKET_MARKETPLACE_BASE_URL", "http://market.test")
	t.Setenv("SLAB_MARKET_RATELIMIT_READ_PER_MINUTE", "60")

	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "http://market.test", cfg.Marketplace.BaseURL)
	assert.Equal(t, 60, cfg.RateLimit.ReadPerMinute)
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SLAB_MARKET_GEMINI_MODEL=gemini-test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SLAB_MARKET_GEMINI_MODEL") })

	cfg, err := config.Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "gemini-test", cfg.Gemini.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{"valid sqlite", func(c *config.Config) {}, false},
		{"postgres without dsn", func(c *config.Config) { c.Database.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *config.Config) {
			c.Database.Driver = "postgres"
			c.Database.DSN = "host=localhost"
		}, false},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }, true},
		{"inverted delay window", func(c *config.Config) { c.Refresh.MaxDelay = time.Second }, true},
		{"zero ttl", func(c *config.Config) { c.Cache.TTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &config.Config{
				Database: config.DatabaseConfig{Driver: "sqlite", Path: "x.db"},
				Cache:    config.CacheConfig{TTL: time.Minute},
				Refresh:  config.RefreshConfig{MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeminiResolveAPIKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("  file-key\n"), 0o600))

	assert.Equal(t, "inline", config.GeminiConfig{APIKey: "inline", APIKeyFile: keyFile}.ResolveAPIKey())
	assert.Equal(t, "file-key", config.GeminiConfig{APIKeyFile: keyFile}.ResolveAPIKey())
	assert.Equal(t, "", config.GeminiConfig{}.ResolveAPIKey())
}
