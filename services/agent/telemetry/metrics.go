// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the run-level counters exposed on /metrics.
type Metrics struct {
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksSkipped   prometheus.Counter
	CommitsTotal   prometheus.Counter

	// CorrectionAttempts observes, per finished task, how many proposal
	// attempts it took (1 = no correction needed).
	CorrectionAttempts prometheus.Histogram

	// ProposerErrors counts transient proposer failures that were
	// retried with backoff.
	ProposerErrors prometheus.Counter
}

// NewMetrics builds and registers the run metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caldera",
			Name:      "tasks_completed_total",
			Help:      "Tasks that finished with a committed change.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caldera",
			Name:      "tasks_failed_total",
			Help:      "Tasks that exhausted self-correction.",
		}),
		TasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caldera",
			Name:      "tasks_skipped_total",
			Help:      "Tasks abandoned because a dependency failed.",
		}),
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caldera",
			Name:      "commits_total",
			Help:      "Version-control commits produced by the run.",
		}),
		CorrectionAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caldera",
			Name:      "correction_attempts",
			Help:      "Proposal attempts per finished task.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		ProposerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caldera",
			Name:      "proposer_errors_total",
			Help:      "Transient proposer failures retried with backoff.",
		}),
	}

	reg.MustRegister(
		m.TasksCompleted, m.TasksFailed, m.TasksSkipped,
		m.CommitsTotal, m.CorrectionAttempts, m.ProposerErrors,
	)
	return m
}
