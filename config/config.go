// Package config loads and validates the daemon configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (MEDIAFTP_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mediakit/ftpd/server"
)

// Config is the full daemon configuration.
type Config struct {
	// Server contains the control connection settings.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Auth holds the single-account credentials.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Passive configures passive-mode data connections (NAT setups).
	Passive PassiveConfig `mapstructure:"passive" yaml:"passive"`

	// Limits bounds sessions and login attempts.
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`

	// Bandwidth throttles data transfers.
	Bandwidth BandwidthConfig `mapstructure:"bandwidth" yaml:"bandwidth"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains the Prometheus endpoint configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig contains the listener and filesystem settings.
type ServerConfig struct {
	// BindAddress is the address to bind the control listener to.
	// Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the control connection port.
	Port int `mapstructure:"port" yaml:"port"`

	// Root is the directory served to clients. Every session is jailed
	// to it.
	Root string `mapstructure:"root" yaml:"root"`

	// ReadOnly rejects all commands that modify the filesystem.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// WelcomeMessage is the banner sent on connection.
	WelcomeMessage string `mapstructure:"welcome_message" yaml:"welcome_message"`
}

// AuthConfig holds the account the server accepts. Password and PasswordHash
// are mutually exclusive; PasswordHash takes a bcrypt hash (see the hashpw
// subcommand).
type AuthConfig struct {
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// PassiveConfig configures passive-mode data connections.
type PassiveConfig struct {
	// PublicHost is the IP or hostname advertised in PASV replies.
	// Leave empty to use the control connection's local address.
	PublicHost string `mapstructure:"public_host" yaml:"public_host,omitempty"`

	// MinPort/MaxPort restrict passive listeners to a port range.
	// Both zero means any free port.
	MinPort int `mapstructure:"min_port" yaml:"min_port"`
	MaxPort int `mapstructure:"max_port" yaml:"max_port"`

	// Timeout bounds the wait for the client's inbound data connection.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LimitsConfig bounds concurrent sessions and login attempts.
type LimitsConfig struct {
	// MaxConnections caps concurrent sessions. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// MaxConnectionsPerIP caps sessions per client address. 0 disables.
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip" yaml:"max_connections_per_ip"`

	// MaxLoginAttempts bounds failed PASS commands per connection.
	MaxLoginAttempts int `mapstructure:"max_login_attempts" yaml:"max_login_attempts"`

	// IdleTimeout closes connections with no command traffic.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// BandwidthConfig throttles data transfers, in bytes per second.
type BandwidthConfig struct {
	// GlobalBPS caps aggregate throughput across sessions. 0 disables.
	GlobalBPS int64 `mapstructure:"global_bps" yaml:"global_bps"`

	// PerSessionBPS caps each session. 0 disables.
	PerSessionBPS int64 `mapstructure:"per_session_bps" yaml:"per_session_bps"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig contains the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress serves /metrics when Enabled (e.g. ":9090").
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// Load reads the configuration from the given file path, overlaid with
// MEDIAFTP_* environment variables. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MEDIAFTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "")
	v.SetDefault("server.port", 2121)
	v.SetDefault("server.root", "")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.welcome_message", "220 Media FTP Server Ready")

	v.SetDefault("auth.username", "kodi")
	v.SetDefault("auth.password", "kodi")
	v.SetDefault("auth.password_hash", "")

	v.SetDefault("passive.public_host", "")
	v.SetDefault("passive.min_port", 0)
	v.SetDefault("passive.max_port", 0)
	v.SetDefault("passive.timeout", 30*time.Second)

	v.SetDefault("limits.max_connections", 0)
	v.SetDefault("limits.max_connections_per_ip", 0)
	v.SetDefault("limits.max_login_attempts", 3)
	v.SetDefault("limits.idle_timeout", 5*time.Minute)

	v.SetDefault("bandwidth.global_bps", 0)
	v.SetDefault("bandwidth.per_session_bps", 0)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", ":9090")
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.Root == "" {
		return fmt.Errorf("server.root is required")
	}
	info, err := os.Stat(c.Server.Root)
	if err != nil {
		return fmt.Errorf("server.root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server.root %s is not a directory", c.Server.Root)
	}

	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("one of auth.password or auth.password_hash is required")
	}
	if c.Auth.Password != "" && c.Auth.PasswordHash != "" {
		return fmt.Errorf("auth.password and auth.password_hash are mutually exclusive")
	}
	if c.Auth.PasswordHash != "" && !server.IsBcryptHash(c.Auth.PasswordHash) {
		return fmt.Errorf("auth.password_hash is not a bcrypt hash")
	}

	if c.Passive.MinPort < 0 || c.Passive.MaxPort > 65535 {
		return fmt.Errorf("passive port range [%d, %d] out of bounds", c.Passive.MinPort, c.Passive.MaxPort)
	}
	if c.Passive.MinPort > c.Passive.MaxPort {
		return fmt.Errorf("passive.min_port %d exceeds passive.max_port %d", c.Passive.MinPort, c.Passive.MaxPort)
	}
	if c.Passive.Timeout <= 0 {
		return fmt.Errorf("passive.timeout must be positive")
	}

	if c.Limits.MaxConnections < 0 || c.Limits.MaxConnectionsPerIP < 0 {
		return fmt.Errorf("connection limits must not be negative")
	}
	if c.Limits.MaxLoginAttempts < 1 {
		return fmt.Errorf("limits.max_login_attempts must be at least 1")
	}

	if c.Bandwidth.GlobalBPS < 0 || c.Bandwidth.PerSessionBPS < 0 {
		return fmt.Errorf("bandwidth limits must not be negative")
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level must be one of DEBUG, INFO, WARN, ERROR, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address is required when metrics are enabled")
	}

	return nil
}

// ListenAddr returns the control listener address in host:port form.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}
