// Package metrics defines the Prometheus collectors shared across the
// pipeline. Collectors are registered once at package init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts submissions by outcome: queued, cached or rejected.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gistd_submissions_total",
		Help: "Submissions received, by outcome.",
	}, []string{"outcome"})

	// DispatchedTotal counts messages published to the work queue.
	DispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gistd_dispatched_messages_total",
		Help: "Queue messages published by the dispatcher.",
	})

	// JobsFinishedTotal counts jobs reaching a terminal status, by result.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gistd_jobs_finished_total",
		Help: "Jobs that reached a terminal status, by result.",
	}, []string{"result"})

	// StaleJobsSweptTotal counts processing jobs failed by the reconciliation sweep.
	StaleJobsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gistd_stale_jobs_swept_total",
		Help: "Jobs stuck in processing that the sweep marked failed.",
	})

	// SummarizeSeconds observes wall-clock duration of summarization calls.
	SummarizeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gistd_summarize_duration_seconds",
		Help:    "Duration of summarization backend calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)
