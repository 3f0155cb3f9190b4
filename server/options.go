package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mediakit/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend driver for authentication and file operations.
// This option is required and can only be set once.
//
// Example:
//
//	driver, _ := server.NewFSDriver("/media", server.WithCredentials(creds))
//	s, _ := server.NewServer(":2121", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage sets the banner sent to clients on connection.
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a connection can be idle before
// being closed. If not specified, defaults to 5 minutes.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous sessions.
// If 0, there is no limit. This is the default.
//
// When the limit is reached, new connections receive a
// "421 Too many users" reply and are closed before a session is created.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		return nil
	}
}

// WithMaxConnectionsPerIP sets the maximum number of simultaneous sessions
// from a single client address. If 0, there is no per-IP limit.
func WithMaxConnectionsPerIP(max int) Option {
	return func(s *Server) error {
		s.maxConnectionsPerIP = max
		return nil
	}
}

// WithPassiveTimeout sets how long a passive-mode listener waits for the
// client's inbound data connection before the transfer fails.
// Defaults to 30 seconds.
func WithPassiveTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return fmt.Errorf("passive timeout must be positive")
		}
		s.passiveTimeout = timeout
		return nil
	}
}

// WithMaxLoginAttempts bounds the number of failed PASS commands before the
// control connection is force-closed. Defaults to 3. Must be at least 1.
func WithMaxLoginAttempts(attempts int) Option {
	return func(s *Server) error {
		if attempts < 1 {
			return fmt.Errorf("login attempts must be at least 1")
		}
		s.maxLoginAttempts = attempts
		return nil
	}
}

// WithBandwidthLimit throttles data transfers. globalBPS caps the aggregate
// throughput across all sessions, perSessionBPS caps each session. Either
// may be 0 for unlimited. When both are set the most restrictive wins.
func WithBandwidthLimit(globalBPS, perSessionBPS int64) Option {
	return func(s *Server) error {
		if globalBPS < 0 || perSessionBPS < 0 {
			return fmt.Errorf("bandwidth limits must not be negative")
		}
		s.globalLimiter = ratelimit.New(globalBPS)
		s.bandwidthLimitPerSession = perSessionBPS
		return nil
	}
}

// WithMetricsCollector attaches a metrics sink; see the metrics package for
// a Prometheus-backed implementation. If nil (the default), no metrics are
// recorded.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithReadTimeout sets the deadline for read operations on connections.
// If 0 (the default), only the idle timeout applies.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets the deadline for write operations on connections.
// If 0 (the default), no write deadline is applied.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = timeout
		return nil
	}
}
