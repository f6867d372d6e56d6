package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, ":8000", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/data/raw", cfg.Scraper.RawBase)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 1.0, cfg.Scraper.RateLimit)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "stream:car_tracker", cfg.Redis.Stream)
	assert.False(t, cfg.Dbt.Enabled)
	assert.Equal(t, "dbt", cfg.Dbt.Bin)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("RAW_BASE", "/tmp/raw")
	t.Setenv("SCRAPER_TIMEOUT", "45")
	t.Setenv("SCRAPER_RATE_LIMIT", "0.5")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("RELAY_INTERVAL", "2s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/tmp/raw", cfg.Scraper.RawBase)
	assert.Equal(t, 45*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 0.5, cfg.Scraper.RateLimit)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Redis.RelayInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("SCRAPER_TIMEOUT", "soon")
	t.Setenv("DB_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout)
	assert.False(t, cfg.Database.Enabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8000},
			Scraper:  ScraperConfig{RawBase: "/data/raw", Timeout: time.Second},
			Database: DatabaseConfig{Host: "localhost", Name: "cartracker"},
			Logging:  LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"missing raw base", func(c *Config) { c.Scraper.RawBase = "" }, "raw artifact base"},
		{"zero timeout", func(c *Config) { c.Scraper.Timeout = 0 }, "invalid scraper timeout"},
		{"negative rate", func(c *Config) { c.Scraper.RateLimit = -1 }, "invalid scraper rate limit"},
		{"database without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, "database host is required"},
		{"database url skips host check", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
			c.Database.URL = "postgres://localhost/cartracker"
		}, ""},
		{"redis without database", func(c *Config) { c.Redis.Enabled = true }, "require the database"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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
