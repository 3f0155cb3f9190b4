package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mediakit/ftpd/config"
	"github.com/mediakit/ftpd/metrics"
	"github.com/mediakit/ftpd/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FTP server",
	Long: `Start the FTP server with the specified configuration.

The server runs in the foreground until interrupted; use your init system
or process supervisor for daemon management.

Examples:
  # Start with the default config location (./config.yaml)
  mediaftpd start

  # Start with a custom config file
  mediaftpd start --config /etc/mediaftpd/config.yaml

  # Start with environment variable overrides
  MEDIAFTP_LOGGING_LEVEL=DEBUG mediaftpd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	driver, err := buildDriver(cfg)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithWelcomeMessage(cfg.Server.WelcomeMessage),
		server.WithMaxIdleTime(cfg.Limits.IdleTimeout),
		server.WithPassiveTimeout(cfg.Passive.Timeout),
		server.WithMaxLoginAttempts(cfg.Limits.MaxLoginAttempts),
	}
	if cfg.Limits.MaxConnections > 0 {
		opts = append(opts, server.WithMaxConnections(cfg.Limits.MaxConnections))
	}
	if cfg.Limits.MaxConnectionsPerIP > 0 {
		opts = append(opts, server.WithMaxConnectionsPerIP(cfg.Limits.MaxConnectionsPerIP))
	}
	if cfg.Bandwidth.GlobalBPS > 0 || cfg.Bandwidth.PerSessionBPS > 0 {
		opts = append(opts, server.WithBandwidthLimit(cfg.Bandwidth.GlobalBPS, cfg.Bandwidth.PerSessionBPS))
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, server.WithMetricsCollector(metrics.NewCollector(reg)))
		metricsSrv = serveMetrics(cfg.Metrics.ListenAddress, reg, logger)
	}

	s, err := server.NewServer(cfg.ListenAddr(), opts...)
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return err
	}

	// Config changes are not applied live; just tell the operator.
	stopWatch, err := config.Watch(configFile(), func() {
		logger.Warn("configuration file changed; restart required to apply")
	})
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("shutting down", "signal", received.String())

	if err := s.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}

	logger.Info("server stopped")
	return nil
}

// buildDriver assembles the filesystem driver from the configuration.
func buildDriver(cfg *config.Config) (server.Driver, error) {
	creds := server.NewStaticCredentials()
	if cfg.Auth.PasswordHash != "" {
		creds.AddUserHash(cfg.Auth.Username, cfg.Auth.PasswordHash)
	} else {
		creds.AddUser(cfg.Auth.Username, cfg.Auth.Password)
	}

	opts := []server.FSDriverOption{
		server.WithCredentials(creds),
		server.WithSettings(&server.Settings{
			PublicHost:  cfg.Passive.PublicHost,
			PasvMinPort: cfg.Passive.MinPort,
			PasvMaxPort: cfg.Passive.MaxPort,
		}),
	}
	if cfg.Server.ReadOnly {
		opts = append(opts, server.WithReadOnly(true))
	}

	return server.NewFSDriver(cfg.Server.Root, opts...)
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler), nil
}

// serveMetrics exposes the Prometheus registry over HTTP in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint error", "error", err)
		}
	}()
	return srv
}
