// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts executor activity.
type Metrics struct {
	Denials  *prometheus.CounterVec
	Commands *prometheus.CounterVec
}

// NewMetrics creates the executor collectors and registers them with
// registerer when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "guard",
			Name:      "denials_total",
			Help:      "Operations refused by the guard chain.",
		}, []string{"operation", "reason"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "executor",
			Name:      "commands_total",
			Help:      "Effect commands executed, by kind.",
		}, []string{"kind"}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.Denials, metrics.Commands)
	}
	return metrics
}
