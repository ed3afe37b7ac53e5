package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func validDefaults() Config {
	cfg := Default()
	cfg.HTTP.JWTSecret = "secret"
	cfg.Encryption.MasterKey = testKey
	return cfg
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govdecisions.toml")
	content := `
[database]
dsn = "sqlite:///tmp/gd.db"

[sweep]
interval = "1m0s"
idle_timeout = "0s"
batch_size = 5

[fanout]
publisher = "nats"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_INTERVAL", "2")

	cfg, err := Load(path, validDefaults())
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///tmp/gd.db", cfg.Database.DSN)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, 2*time.Minute, cfg.Sweep.Interval.Duration)
	assert.Equal(t, time.Duration(0), cfg.Sweep.IdleTimeout.Duration)
	assert.Equal(t, 5, cfg.Sweep.BatchSize)
	assert.Equal(t, PublisherNATS, cfg.FanOut.Publisher)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), validDefaults())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.IdleTimeout.Duration)
}

func TestLoad_SweepSuspendDisabled(t *testing.T) {
	t.Setenv("SWEEP_SUSPEND", "off")
	cfg, err := Load("", validDefaults())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Sweep.IdleTimeout.Duration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.HTTP.JWTSecret = "" }, "jwt secret"},
		{"bad publisher", func(c *Config) { c.FanOut.Publisher = "kafka" }, "fanout.publisher"},
		{"zero interval", func(c *Config) { c.Sweep.Interval.Duration = 0 }, "sweep.interval"},
		{"short key", func(c *Config) { c.Encryption.MasterKey = "abcd" }, "32 bytes"},
		{"non hex key", func(c *Config) { c.Encryption.MasterKey = strings.Repeat("z", 64) }, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(&cfg)
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

func TestParseBoolDefault(t *testing.T) {
	assert.True(t, parseBoolDefault("YES", false))
	assert.False(t, parseBoolDefault("off", true))
	assert.True(t, parseBoolDefault("maybe", true))
}
