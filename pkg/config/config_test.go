package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := ParseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8750", cfg.SubscribeAddr)
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 50, cfg.HistoryCap)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, map[string]string{"demo-token": "demo"}, cfg.AuthTokens)
}

func TestFlagOverrides(t *testing.T) {
	cfg, err := ParseFlags([]string{
		"-subscribe-addr", ":9999",
		"-workers", "2",
		"-stage-delay", "50ms",
		"-log-level", "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.SubscribeAddr)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.StageDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched values keep defaults.
	assert.Equal(t, ":8080", cfg.APIAddr)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subscribe_addr: ":7001"
history_cap: 10
log_level: warn
auth_tokens:
  ops-token: ops
`), 0o644))

	cfg, err := ParseFlags([]string{"-config", path})
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.SubscribeAddr)
	assert.Equal(t, 10, cfg.HistoryCap)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, map[string]string{"ops-token": "ops"}, cfg.AuthTokens)
	// Keys absent from the file stay at defaults.
	assert.Equal(t, ":8080", cfg.APIAddr)
}

func TestFlagsWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("subscribe_addr: \":7001\"\nworkers: 3\n"), 0o644))

	cfg, err := ParseFlags([]string{"-config", path, "-subscribe-addr", ":7002"})
	require.NoError(t, err)

	assert.Equal(t, ":7002", cfg.SubscribeAddr)
	assert.Equal(t, 3, cfg.Workers)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := ParseFlags([]string{"-config", "/does/not/exist.yaml"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAuthTokensFlag(t *testing.T) {
	cfg, err := ParseFlags([]string{"-auth-tokens", "t1=alice, t2=bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"t1": "alice", "t2": "bob"}, cfg.AuthTokens)
}

func TestAuthTokensFlagMalformed(t *testing.T) {
	_, err := ParseFlags([]string{"-auth-tokens", "justatoken"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing subscribe addr", func(c *Config) { c.SubscribeAddr = "" }, ErrMissingRequired},
		{"missing api addr", func(c *Config) { c.APIAddr = "" }, ErrMissingRequired},
		{"zero history cap", func(c *Config) { c.HistoryCap = 0 }, ErrInvalidConfig},
		{"negative workers", func(c *Config) { c.Workers = -1 }, ErrInvalidConfig},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
