// Package metrics exposes the mailer's operational counters via
// github.com/prometheus/client_golang. Each counter/gauge is created once
// against a Registry the caller owns; there is no package-global registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/gauge the mailer and its sessions update.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec // label "state": done|error
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	FilesSent         prometheus.Counter
	FilesReceived     prometheus.Counter
	BSYContention     prometheus.Counter
	CRCFailures       prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

// New constructs a Metrics and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "sessions_started_total",
			Help:      "Total number of binkp sessions started, either role.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "sessions_completed_total",
			Help:      "Total number of binkp sessions completed, by terminal state.",
		}, []string{"state"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "bytes_sent_total",
			Help:      "Total wire bytes sent across all sessions.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "bytes_received_total",
			Help:      "Total wire bytes received across all sessions.",
		}),
		FilesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "files_sent_total",
			Help:      "Total files successfully sent and acknowledged.",
		}),
		FilesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "files_received_total",
			Help:      "Total files successfully received and verified.",
		}),
		BSYContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "bsy_contention_total",
			Help:      "Total AcquireBSY attempts that found the link already busy.",
		}),
		CRCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binkd",
			Name:      "crc_failures_total",
			Help:      "Total inbound files rejected for CRC mismatch.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "binkd",
			Name:      "active_sessions",
			Help:      "Number of binkp sessions currently running.",
		}),
	}
	reg.MustRegister(
		m.SessionsStarted, m.SessionsCompleted, m.BytesSent, m.BytesReceived,
		m.FilesSent, m.FilesReceived, m.BSYContention, m.CRCFailures, m.ActiveSessions,
	)
	return m
}
