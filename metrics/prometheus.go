// Package metrics provides a Prometheus-backed implementation of the
// server.MetricsCollector interface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mediakit/ftpd/server"
)

// collector is the Prometheus implementation of server.MetricsCollector.
type collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	transferSeconds *prometheus.HistogramVec
	connections     *prometheus.CounterVec
	authentications *prometheus.CounterVec
}

// NewCollector registers FTP server metrics on reg and returns a collector
// feeding them. Pass prometheus.DefaultRegisterer to use the default
// registry.
func NewCollector(reg prometheus.Registerer) server.MetricsCollector {
	return &collector{
		commands: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_commands_total",
				Help: "Total number of FTP commands processed by command and outcome",
			},
			[]string{"command", "success"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ftpd_command_duration_seconds",
				Help: "Duration of FTP command processing in seconds",
				Buckets: []float64{
					0.001, // navigation commands
					0.005,
					0.01,
					0.05,
					0.1,
					0.5,
					1,
					5,
					30, // long transfers
					300,
				},
			},
			[]string{"command"},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfers_total",
				Help: "Total number of completed data transfers by operation",
			},
			[]string{"operation"},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfer_bytes_total",
				Help: "Total bytes moved over data connections by operation",
			},
			[]string{"operation"},
		),
		transferSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ftpd_transfer_duration_seconds",
				Help: "Duration of data transfers in seconds",
				Buckets: []float64{
					0.01, // directory listings
					0.1,
					0.5,
					1,
					5,
					30,
					120, // large media files
					600,
				},
			},
			[]string{"operation"},
		),
		connections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_connections_total",
				Help: "Total number of control connections by outcome",
			},
			[]string{"accepted", "reason"},
		),
		authentications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_authentications_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"success"},
		),
	}
}

func (c *collector) RecordCommand(command string, success bool, duration time.Duration) {
	c.commands.WithLabelValues(command, strconv.FormatBool(success)).Inc()
	c.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (c *collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.transfers.WithLabelValues(operation).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *collector) RecordConnection(accepted bool, reason string) {
	c.connections.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

func (c *collector) RecordAuthentication(success bool, user string) {
	// The user name is deliberately not a label; user-controlled label
	// values would let an attacker blow up metric cardinality.
	c.authentications.WithLabelValues(strconv.FormatBool(success)).Inc()
}
