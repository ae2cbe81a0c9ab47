package server

import "time"

// MetricsCollector is an optional interface for collecting server metrics.
// Implementations can send metrics to monitoring systems like Prometheus,
// StatsD, DataDog, etc. See internal/telemetry for a VictoriaMetrics
// implementation.
//
// Methods are called from the dispatch loop and the accept loop and
// should be non-blocking.
type MetricsCollector interface {
	// RecordCommand records the execution of a command.
	// cmd is the verb (e.g., "STAT", "CWD"); unknown verbs are reported as
	// "UNKNOWN". success is false when the handler failed.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordConnection records a connection attempt.
	// reason provides context (e.g., "global_limit_reached", "per_ip_limit_reached", "accepted").
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records a login attempt.
	RecordAuthentication(success bool, user string)

	// RecordAbort records a command interrupted by ABOR.
	RecordAbort(cmd string)
}
