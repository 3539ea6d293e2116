// Package metrics exposes the Prometheus counters, gauges, and histograms
// the worker pool, event bus, and classifier update as they run. Metrics
// register to the default Prometheus registry at package init, so any
// package that imports metrics to update its collectors gets counted
// automatically without threading a registry through constructors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts orchestration turns by outcome ("succeeded" or "failed").
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "orchestration",
		Name:      "turns_total",
		Help:      "Total number of orchestration turns processed, by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes turn execution latency, by outcome.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatd",
		Subsystem: "orchestration",
		Name:      "turn_duration_seconds",
		Help:      "Turn execution latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	// QueueDepth reports the number of undelivered MessageSent events
	// waiting for a worker, sampled each time the pool computes its health.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "orchestration",
		Name:      "queue_depth",
		Help:      "Number of undelivered MessageSent events awaiting a worker.",
	})

	// EventsPublished counts durable events persisted to the outbox, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Total number of events persisted to the outbox, by event type.",
	}, []string{"event_type"})

	// EventDeliveryFailures counts events promoted to the dead letter queue
	// after exhausting their retry budget.
	EventDeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "bus",
		Name:      "event_delivery_failures_total",
		Help:      "Total number of events promoted to the dead letter queue.",
	})

	// ClassifierTierTotal counts classifications finalized at each cascade tier.
	ClassifierTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "classifier",
		Name:      "tier_total",
		Help:      "Total number of classifications finalized at each cascade tier.",
	}, []string{"tier"})

	// ClassifierLatency observes classification latency, by tier reached.
	ClassifierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatd",
		Subsystem: "classifier",
		Name:      "classify_duration_seconds",
		Help:      "Classification latency in seconds, by tier reached.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tier"})
)

// Handler serves the Prometheus exposition format for mounting at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
