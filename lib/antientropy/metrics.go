// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package antientropy

import "github.com/prometheus/client_golang/prometheus"

// Session outcomes used as the "outcome" label.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
)

// Metrics exports service activity.
type Metrics struct {
	Sessions       *prometheus.CounterVec
	OpsSynced      prometheus.Counter
	ActiveSessions prometheus.Gauge
	Rounds         prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer
// when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Anti-entropy sessions by outcome.",
		}, []string{"outcome"}),
		OpsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "operations_synced_total",
			Help:      "Ops pulled and merged or pushed to a peer.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "active_sessions",
			Help:      "Sessions currently running.",
		}),
		Rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "session_rounds",
			Help:      "Rounds per completed session.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.Sessions, metrics.OpsSynced, metrics.ActiveSessions, metrics.Rounds)
	}
	return metrics
}
