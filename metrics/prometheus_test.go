package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsCommands(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCommand("RETR", true, 10*time.Millisecond)
	c.RecordCommand("RETR", true, 20*time.Millisecond)
	c.RecordCommand("STOR", false, 5*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ftpd_commands_total"])
	assert.True(t, names["ftpd_command_duration_seconds"])
}

func TestCollectorRecordsTransfers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransfer("RETR", 1024, time.Second)
	c.RecordTransfer("RETR", 2048, 2*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	var bytesTotal float64
	for _, f := range families {
		if f.GetName() == "ftpd_transfer_bytes_total" {
			for _, m := range f.GetMetric() {
				bytesTotal += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(3072), bytesTotal)
}

func TestCollectorRecordsConnectionsAndAuth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConnection(true, "accepted")
	c.RecordConnection(false, "global_limit_reached")
	c.RecordAuthentication(true, "kodi")
	c.RecordAuthentication(false, "kodi")
	c.RecordAuthentication(false, "intruder")

	families, err := reg.Gather()
	require.NoError(t, err)

	var authFailures float64
	for _, f := range families {
		if f.GetName() != "ftpd_authentications_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "success" && l.GetValue() == "false" {
					authFailures = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), authFailures, "user name must not split the failure counter")
}
