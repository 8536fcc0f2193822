package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsCreated tracks ledger events written by the classifier
	EventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_digest_events_created_total",
			Help: "Total number of pending notification events created",
		},
		[]string{"type"},
	)

	// ObjectsSkipped tracks objects left out of a pass because their recipients could not be resolved
	ObjectsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_digest_objects_skipped_total",
			Help: "Total number of workflow objects skipped during classification",
		},
		[]string{"kind"},
	)

	// DigestsSent tracks dispatched digests by outcome
	DigestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_digest_digests_total",
			Help: "Total number of digests handed to the sender",
		},
		[]string{"status"},
	)

	// EventsMarkedSent tracks ledger events stamped as sent
	EventsMarkedSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_digest_events_sent_total",
			Help: "Total number of notification events marked sent",
		},
	)

	// PendingEvents tracks events still pending after the last dispatch
	PendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_digest_pending_events",
			Help: "Number of events left pending after the last dispatch",
		},
	)

	// RunDuration tracks how long each stage of a run takes
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_digest_run_duration_seconds",
			Help:    "Digest run stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)
