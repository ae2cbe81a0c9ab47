// Package telemetry implements server.MetricsCollector on top of
// github.com/VictoriaMetrics/metrics and exposes it in the Prometheus text
// format.
package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Collector records FTP server metrics in a metrics.Set.
//
// Metric names:
//
//	ftp_commands_total{cmd="STAT",status="ok"}
//	ftp_command_duration_seconds{cmd="STAT"}
//	ftp_connections_total{result="accepted"}
//	ftp_authentications_total{result="success"}
//	ftp_aborts_total{cmd="STAT"}
//	ftp_active_connections
type Collector struct {
	set *metrics.Set
}

// New returns a collector writing to set. A nil set gets a fresh one.
func New(set *metrics.Set) *Collector {
	if set == nil {
		set = metrics.NewSet()
	}
	return &Collector{set: set}
}

// Set returns the underlying metrics set.
func (c *Collector) Set() *metrics.Set { return c.set }

// RecordCommand records the execution of a command.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	cmd = label(cmd)
	c.set.GetOrCreateCounter(fmt.Sprintf(`ftp_commands_total{cmd=%q,status=%q}`, cmd, status)).Inc()
	c.set.GetOrCreateHistogram(fmt.Sprintf(`ftp_command_duration_seconds{cmd=%q}`, cmd)).Update(duration.Seconds())
}

// RecordConnection records a connection attempt.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	result := label(reason)
	if accepted {
		result = "accepted"
	}
	c.set.GetOrCreateCounter(fmt.Sprintf(`ftp_connections_total{result=%q}`, result)).Inc()
}

// RecordAuthentication records a login attempt. User names are not used as
// labels to keep the series count bounded.
func (c *Collector) RecordAuthentication(success bool, _ string) {
	result := "failure"
	if success {
		result = "success"
	}
	c.set.GetOrCreateCounter(fmt.Sprintf(`ftp_authentications_total{result=%q}`, result)).Inc()
}

// RecordAbort records a command interrupted by ABOR.
func (c *Collector) RecordAbort(cmd string) {
	c.set.GetOrCreateCounter(fmt.Sprintf(`ftp_aborts_total{cmd=%q}`, label(cmd))).Inc()
}

// TrackActiveConnections exports the value returned by active as the
// ftp_active_connections gauge. It must be called at most once per set.
func (c *Collector) TrackActiveConnections(active func() int) {
	c.set.NewGauge("ftp_active_connections", func() float64 {
		return float64(active())
	})
}

// WritePrometheus writes all metrics in the Prometheus text format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// Handler serves the metrics, followed by the process metrics, over HTTP.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
}

// label keeps label values to a safe alphabet.
func label(v string) string {
	v = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, v)
	if v == "" {
		return "unknown"
	}
	return v
}
