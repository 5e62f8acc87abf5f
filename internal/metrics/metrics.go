package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	MeliRequests    *prometheus.CounterVec
	MeliLatency     *prometheus.HistogramVec
	CacheReads      *prometheus.CounterVec
	SyncRuns        *prometheus.CounterVec
	SyncAccounts    *prometheus.CounterVec
	QueueItems      *prometheus.CounterVec
	QueueDrainDepth prometheus.Histogram
	Errors          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			MeliRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meli_requests_total",
				Help:      "Total MercadoLibre API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			MeliLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "meli_request_duration_seconds",
				Help:      "Latency distribution for MercadoLibre API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			CacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_reads_total",
				Help:      "Cache layer reads by resource and outcome (hit, miss, forced).",
			}, []string{"resource", "outcome"}),
			SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Background sync passes by resource and outcome.",
			}, []string{"resource", "outcome"}),
			SyncAccounts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_accounts_total",
				Help:      "Accounts processed by background sync, by resource and outcome.",
			}, []string{"resource", "outcome"}),
			QueueItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_queue_items_total",
				Help:      "Claims queue items by terminal outcome (completed, retried, failed).",
			}, []string{"outcome"}),
			QueueDrainDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "claims_queue_drain_batch_size",
				Help:      "Number of items picked per drain pass.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50},
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.MeliRequests,
			metricsInstance.MeliLatency,
			metricsInstance.CacheReads,
			metricsInstance.SyncRuns,
			metricsInstance.SyncAccounts,
			metricsInstance.QueueItems,
			metricsInstance.QueueDrainDepth,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
