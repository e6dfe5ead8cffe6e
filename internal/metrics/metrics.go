// Package metrics exposes Prometheus counters for the sync core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue outcomes.
const (
	QueueApplied = "applied"
	QueueRetried = "retried"
	QueueDropped = "dropped"
	QueueAborted = "aborted"
)

// Sync run outcomes.
const (
	SyncSucceeded = "succeeded"
	SyncFailed    = "failed"
	SyncSkipped   = "skipped"
)

var (
	namespace = "fitsync"

	mergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "merges_total",
			Help:      "Remote documents merged into the local store, by resolution",
		},
		[]string{"collection", "resolution"},
	)

	validationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "validation_errors_total",
			Help:      "Records that failed structural validation, by source (local or remote)",
		},
		[]string{"collection", "source"},
	)

	integrityErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "integrity_errors_total",
			Help:      "Merges rejected because the merged record failed validation",
		},
		[]string{"collection"},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Full sync passes, by outcome",
		},
		[]string{"collection", "outcome"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of full sync passes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"collection"},
	)

	queueOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Offline queue operations processed during drains, by outcome",
		},
		[]string{"outcome"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Operations waiting in the offline queue",
		},
	)

	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Aggregation cache lookups, by summary kind and result",
		},
		[]string{"kind", "result"},
	)

	connectivityState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "state",
			Help:      "Connectivity state (1=online, 0=offline, -1=unknown)",
		},
	)

	remoteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Retried remote operations, by operation name",
		},
		[]string{"operation"},
	)
)

// RecordMerge counts one merged document.
func RecordMerge(collection, resolution string) {
	mergesTotal.WithLabelValues(collection, resolution).Inc()
}

// RecordValidationError counts one invalid record.
func RecordValidationError(collection, source string) {
	validationErrorsTotal.WithLabelValues(collection, source).Inc()
}

// RecordIntegrityError counts one rejected merge.
func RecordIntegrityError(collection string) {
	integrityErrorsTotal.WithLabelValues(collection).Inc()
}

// ObserveSync records a finished full sync pass.
func ObserveSync(collection, outcome string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(collection, outcome).Inc()
	if outcome != SyncSkipped {
		syncDuration.WithLabelValues(collection).Observe(duration.Seconds())
	}
}

// AddQueueOutcome adds n operations with the given outcome.
func AddQueueOutcome(outcome string, n int) {
	if n > 0 {
		queueOpsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(kind, result).Inc()
}

// SetConnectivity records the connectivity state name.
func SetConnectivity(state string) {
	switch state {
	case "online":
		connectivityState.Set(1)
	case "offline":
		connectivityState.Set(0)
	default:
		connectivityState.Set(-1)
	}
}

// RecordRetry counts one retried remote call.
func RecordRetry(operation string) {
	remoteRetriesTotal.WithLabelValues(operation).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
