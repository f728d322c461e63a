package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "honeyledger"

// PipelineMetrics holds all Prometheus metrics for the relay.
type PipelineMetrics struct {
	EventsTotal         *prometheus.CounterVec
	BytesTotal          prometheus.Counter
	ObserversConnected  prometheus.Gauge
	ObserversDropped    *prometheus.CounterVec
	BroadcastsTotal     *prometheus.CounterVec
	LedgerOutcomes      *prometheus.CounterVec
	LedgerAttempts      prometheus.Counter
	ConfirmationSeconds prometheus.Histogram
	CommitQueueDepth    prometheus.Gauge
	APIKeyCacheHits     prometheus.Counter
	APIKeyCacheMisses   prometheus.Counter
}

// NewPipelineMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of offered events by status.",
		}, []string{"status"}), // status: accepted, rejected, backpressure, closed
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of request bytes received by the ingest endpoint.",
		}),
		ObserversConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "observers_connected",
			Help:      "Number of currently registered observers.",
		}),
		ObserversDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "observers_dropped_total",
			Help:      "Observers removed from the registry by reason.",
		}, []string{"reason"}), // reason: overflow, disconnect, shutdown
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to observers by kind.",
		}, []string{"kind"}),
		LedgerOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commits_total",
			Help:      "Terminal ledger commit outcomes.",
		}, []string{"outcome"}), // outcome: confirmed, failed, timeout, aborted
		LedgerAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submission_attempts_total",
			Help:      "Ledger submission attempts, including retries.",
		}),
		ConfirmationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "confirmation_seconds",
			Help:      "Time from ledger acceptance to observed confirmation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 120, 300},
		}),
		CommitQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "queue_depth",
			Help:      "Events waiting for ledger submission.",
		}),
		APIKeyCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}
