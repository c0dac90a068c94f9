package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "data/prices.db", cfg.Database.SQLitePath)
	assert.Equal(t, 6, cfg.Database.CacheHours)
	assert.Equal(t, 24, cfg.Database.FailedCacheHours)
	assert.Equal(t, 2*time.Second, cfg.Scraper.DelayMin)
	assert.Equal(t, 5*time.Second, cfg.Scraper.DelayMax)
	assert.Equal(t, 15*time.Second, cfg.Scraper.HTTPTimeout)
	assert.Equal(t, 1, cfg.Scraper.Workers)
	assert.NotEmpty(t, cfg.Scraper.UserAgents)
	assert.False(t, cfg.Redis.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConf(t, `# tracker settings
database_type=sqlite
sqlite_path=/tmp/tracker.db
cache_duration_hours=12
failed_cache_duration_hours=48
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tracker.db", cfg.Database.SQLitePath)
	assert.Equal(t, 12, cfg.Database.CacheHours)
	assert.Equal(t, 48, cfg.Database.FailedCacheHours)
	assert.Equal(t, 12*time.Hour, cfg.Database.CacheTTL())
	assert.Equal(t, 48*time.Hour, cfg.Database.FailedCacheTTL())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConf(t, "sqlite_path=/tmp/file.db\ncache_duration_hours=12\n")
	t.Setenv("DB_SQLITE_PATH", "/tmp/env.db")
	t.Setenv("SCRAPER_USER_AGENTS", "ua-one, ua-two,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database.SQLitePath)
	assert.Equal(t, 12, cfg.Database.CacheHours)
	assert.Equal(t, []string{"ua-one", "ua-two"}, cfg.Scraper.UserAgents)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"postgres rejected", func(c *Config) { c.Database.Type = "postgres" }, true},
		{"empty path", func(c *Config) { c.Database.SQLitePath = "" }, true},
		{"zero ttl", func(c *Config) { c.Database.CacheHours = 0 }, true},
		{"zero failed ttl", func(c *Config) { c.Database.FailedCacheHours = 0 }, true},
		{"delay inverted", func(c *Config) { c.Scraper.DelayMin = 10 * time.Second }, true},
		{"no workers", func(c *Config) { c.Scraper.Workers = 0 }, true},
		{"no browsers", func(c *Config) { c.Scraper.MaxBrowsers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "none.conf"))
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_UnsupportedDatabaseSentinel(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.conf"))
	require.NoError(t, err)
	cfg.Database.Type = "mysql"

	assert.ErrorIs(t, cfg.Validate(), ErrUnsupportedDatabase)
}
