package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, "server:\n  root: "+root+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2121, cfg.Server.Port)
	assert.Equal(t, "kodi", cfg.Auth.Username)
	assert.Equal(t, "kodi", cfg.Auth.Password)
	assert.Equal(t, 3, cfg.Limits.MaxLoginAttempts)
	assert.Equal(t, 30*time.Second, cfg.Passive.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Limits.IdleTimeout)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFullFile(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
server:
  bind_address: "127.0.0.1"
  port: 2222
  root: `+root+`
  read_only: true
auth:
  username: media
  password: secret
passive:
  public_host: ftp.example.com
  min_port: 30000
  max_port: 30100
  timeout: 10s
limits:
  max_connections: 5
  max_login_attempts: 2
  idle_timeout: 1m
bandwidth:
  per_session_bps: 1048576
logging:
  level: DEBUG
  format: json
metrics:
  enabled: true
  listen_address: ":9999"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2222", cfg.ListenAddr())
	assert.True(t, cfg.Server.ReadOnly)
	assert.Equal(t, "media", cfg.Auth.Username)
	assert.Equal(t, 30000, cfg.Passive.MinPort)
	assert.Equal(t, 10*time.Second, cfg.Passive.Timeout)
	assert.Equal(t, 5, cfg.Limits.MaxConnections)
	assert.Equal(t, int64(1048576), cfg.Bandwidth.PerSessionBPS)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, "server:\n  root: "+root+"\n  port: 2121\n")

	t.Setenv("MEDIAFTP_SERVER_PORT", "2525")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2525, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	root := t.TempDir()

	base := func() *Config {
		cfg, err := Load(writeConfig(t, "server:\n  root: "+root+"\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"missing root", func(c *Config) { c.Server.Root = "" }},
		{"root not a directory", func(c *Config) {
			f := filepath.Join(root, "file")
			require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
			c.Server.Root = f
		}},
		{"missing username", func(c *Config) { c.Auth.Username = "" }},
		{"missing password", func(c *Config) { c.Auth.Password = "" }},
		{"both password forms", func(c *Config) { c.Auth.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv" }},
		{"malformed hash", func(c *Config) {
			c.Auth.Password = ""
			c.Auth.PasswordHash = "not-a-hash"
		}},
		{"inverted passive range", func(c *Config) {
			c.Passive.MinPort = 31000
			c.Passive.MaxPort = 30000
		}},
		{"zero login attempts", func(c *Config) { c.Limits.MaxLoginAttempts = 0 }},
		{"negative bandwidth", func(c *Config) { c.Bandwidth.GlobalBPS = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteSample(path))

	// The sample must load once a real root is substituted in.
	assert.Error(t, WriteSample(path), "refuses to overwrite")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 2121")
	assert.Contains(t, string(data), "username: \"kodi\"")
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	changed := make(chan struct{}, 1)
	stop, err := Watch(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("change not reported")
	}
}
