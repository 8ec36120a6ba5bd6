// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TicksAccepted  prometheus.Counter
	TicksFlushed   prometheus.Counter
	FlushesTotal   *prometheus.CounterVec // by result: success|failure|skipped
	PendingTicks   prometheus.Gauge
	FlushBatchSize prometheus.Histogram

	// Backfill metrics
	GapsDetected       prometheus.Counter
	GapsUnresolved     prometheus.Counter
	CandlesFetched     prometheus.Counter
	CandlesUpserted    prometheus.Counter
	SourceFetchErrors  *prometheus.CounterVec // by kind: transient|permanent
	CandleQueryLatency prometheus.Histogram

	// Auto-backfill metrics
	BackfillSweeps        prometheus.Counter
	InstrumentsChecked    prometheus.Counter
	InstrumentsBackfilled prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tickvault"
	}

	return &Metrics{
		TicksAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_accepted_total",
			Help:      "Total number of ticks accepted into the buffer",
		}),
		TicksFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_flushed_total",
			Help:      "Total number of ticks written to the tick store",
		}),
		FlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "flushes_total",
			Help:      "Total number of flush attempts by result",
		}, []string{"result"}),
		PendingTicks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pending_ticks",
			Help:      "Current number of ticks buffered in memory",
		}),
		FlushBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "flush_batch_size",
			Help:      "Number of ticks per successful flush",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		GapsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "gaps_detected_total",
			Help:      "Total number of gaps detected in candle queries",
		}),
		GapsUnresolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "gaps_unresolved_total",
			Help:      "Total number of gaps left unresolved after backfill",
		}),
		CandlesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "candles_fetched_total",
			Help:      "Total number of candles fetched from the historical source",
		}),
		CandlesUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "candles_upserted_total",
			Help:      "Total number of candles written to the candle store",
		}),
		SourceFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "source_fetch_errors_total",
			Help:      "Total number of historical source failures by kind",
		}, []string{"kind"}),
		CandleQueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "candle_query_latency_seconds",
			Help:      "End-to-end latency of gap-filling candle queries",
			Buckets:   prometheus.DefBuckets,
		}),

		BackfillSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autobackfill",
			Name:      "sweeps_total",
			Help:      "Total number of auto-backfill sweep cycles",
		}),
		InstrumentsChecked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autobackfill",
			Name:      "instruments_checked_total",
			Help:      "Total number of instruments examined for staleness",
		}),
		InstrumentsBackfilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autobackfill",
			Name:      "instruments_backfilled_total",
			Help:      "Total number of instruments actually backfilled",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
