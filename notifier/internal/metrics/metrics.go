package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for DeliveriesTotal.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

var (
	// Pipeline metrics, labelled with the terminal pipeline state
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_notify_events_total",
			Help: "Total number of ingest status messages processed, by terminal state",
		},
		[]string{"state"},
	)

	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_notify_deliveries_total",
			Help: "Total number of notification send attempts",
		},
		[]string{"target", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_notify_dispatch_duration_seconds",
			Help:    "Duration of notification send calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Next-service chaining
	ChainPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_notify_chain_published_total",
			Help: "Total number of next-service start requests published",
		},
		[]string{"service"},
	)

	// Dead letter queue
	DLQWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_notify_dlq_written_total",
			Help: "Total number of rejected messages written to the dead letter queue",
		},
		[]string{"reason"},
	)
)
