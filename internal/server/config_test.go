package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 100, cfg.History.Capacity)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, time.Second, cfg.RefillInterval())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.MessageTimeout())
	assert.False(t, cfg.Preview.AllowPrivateHosts)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
listen_addr = "127.0.0.1:9000"
allowed_origins = ["https://chat.example"]

[limits]
max_username_length = 16

[history]
capacity = 50
dump_path = "/var/lib/media-chat/history.dump"

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"https://chat.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 16, cfg.Limits.MaxUsernameLength)
	assert.Equal(t, 50, cfg.History.Capacity)
	assert.Equal(t, "/var/lib/media-chat/history.dump", cfg.History.DumpPath)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 4096, int(cfg.Limits.MaxMessageSize))
	assert.Equal(t, 100, cfg.Preview.SniffBytes)
}

func TestLoadConfigRejectsMalformedTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "[server\nlisten_addr = ")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// TestLoadConfigEnvironmentOverridesFile checks the environment wins over the
// file and origins are split on commas.
func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "config.toml", "[history]\ncapacity = 50\n")
	t.Setenv("MEDIACHAT_HISTORY_CAPACITY", "25")
	t.Setenv("MEDIACHAT_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MEDIACHAT_PROBE_TIMEOUT_MS", "750")
	t.Setenv("MEDIACHAT_LOG_LEVEL", "warn")
	t.Setenv("MEDIACHAT_MESSAGE_TIMEOUT_MS", "2500")
	t.Setenv("MEDIACHAT_ALLOW_PRIVATE_HOSTS", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.History.Capacity)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.ProbeTimeout())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2500*time.Millisecond, cfg.MessageTimeout())
	assert.True(t, cfg.Preview.AllowPrivateHosts)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dotenv := writeFile(t, ".env", "MEDIACHAT_LISTEN_ADDR=127.0.0.1:7000\nMEDIACHAT_SEND_BUFFER=64\n")
	t.Setenv("MEDIACHAT_LISTEN_ADDR", "")
	os.Unsetenv("MEDIACHAT_LISTEN_ADDR")
	t.Setenv("MEDIACHAT_SEND_BUFFER", "")
	os.Unsetenv("MEDIACHAT_SEND_BUFFER")

	cfg, err := LoadConfig("", dotenv, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	assert.Equal(t, 64, cfg.Limits.SendBuffer)
}

func TestSanitizeRestoresDefaults(t *testing.T) {
	var cfg Config
	cfg.Log.Level = "LOUD"
	cfg.Sanitize()

	want := DefaultConfig()
	assert.Equal(t, want, cfg)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen address", func(c *Config) { c.Server.ListenAddr = "not an address" }},
		{"huge message size", func(c *Config) { c.Limits.MaxMessageSize = 1 << 30 }},
		{"tiny message size", func(c *Config) { c.Limits.MaxMessageSize = 8 }},
		{"huge sniff window", func(c *Config) { c.Preview.SniffBytes = 1 << 20 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
