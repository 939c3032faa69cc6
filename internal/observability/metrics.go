// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TicksIngested       prometheus.Counter
	TicksRejected       *prometheus.CounterVec
	TimeframeFailures   *prometheus.CounterVec
	IngestLatency       prometheus.Histogram
	DispatcherQueueSize *prometheus.GaugeVec

	// Aggregation metrics
	CandleOutcomes     *prometheus.CounterVec
	ConsistencyErrors  *prometheus.CounterVec
	AggregationLatency *prometheus.HistogramVec

	// Archive metrics
	ArchiveBatches *prometheus.CounterVec
	ArchivedTicks  prometheus.Counter

	// Feed metrics
	FeedMessages   *prometheus.CounterVec
	FeedReconnects *prometheus.CounterVec

	// Retention metrics
	SweepDeleted  *prometheus.CounterVec
	SweepFailures *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Query metrics
	QueryDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulSweep     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "candle_engine"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		TicksIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_ingested_total",
			Help:      "Total number of ticks persisted",
		}),
		TicksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_rejected_total",
			Help:      "Total number of ticks rejected by reason",
		}, []string{"reason"}),
		TimeframeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "timeframe_failures_total",
			Help:      "Total number of per-timeframe aggregation failures",
		}, []string{"timeframe"}),
		IngestLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ingest_latency_seconds",
			Help:      "End-to-end latency of ingesting one tick",
			Buckets:   prometheus.DefBuckets,
		}),
		DispatcherQueueSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "dispatcher_queue_size",
			Help:      "Current number of queued ticks per dispatcher worker",
		}, []string{"worker"}),

		// Aggregation metrics
		CandleOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "candle_outcomes_total",
			Help:      "Total number of candle applications by timeframe and outcome",
		}, []string{"timeframe", "outcome"}),
		ConsistencyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "consistency_errors_total",
			Help:      "Total number of candle consistency errors by timeframe",
		}, []string{"timeframe"}),
		AggregationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "apply_latency_seconds",
			Help:      "Latency of applying one tick to one timeframe",
			Buckets:   prometheus.DefBuckets,
		}, []string{"timeframe"}),

		// Archive metrics
		ArchiveBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "batches_total",
			Help:      "Total number of tick archive batch writes by status",
		}, []string{"status"}),
		ArchivedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "ticks_total",
			Help:      "Total number of ticks written to the archive",
		}),

		// Feed metrics
		FeedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of feed messages by source and status",
		}, []string{"source", "status"}),
		FeedReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}, []string{"source"}),

		// Retention metrics
		SweepDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_rows_total",
			Help:      "Total number of rows deleted by retention target",
		}, []string{"target"}),
		SweepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "failures_total",
			Help:      "Total number of failed retention targets",
		}, []string{"target"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "sweep_duration_seconds",
			Help:      "Retention sweep duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),

		// Query metrics
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Candle query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulSweep: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful retention sweep",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordTickIngested records a persisted tick and its end-to-end latency.
func RecordTickIngested(elapsed time.Duration) {
	DefaultMetrics.TicksIngested.Inc()
	DefaultMetrics.IngestLatency.Observe(elapsed.Seconds())
	DefaultMetrics.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordTickRejected records a tick rejected before persistence.
func RecordTickRejected(reason string) {
	DefaultMetrics.TicksRejected.WithLabelValues(reason).Inc()
}

// RecordTimeframeFailure records a failed per-timeframe aggregation.
func RecordTimeframeFailure(timeframe string) {
	DefaultMetrics.TimeframeFailures.WithLabelValues(timeframe).Inc()
}

// RecordCandleOutcome records the outcome of one Apply call.
func RecordCandleOutcome(timeframe, outcome string, elapsed time.Duration) {
	DefaultMetrics.CandleOutcomes.WithLabelValues(timeframe, outcome).Inc()
	DefaultMetrics.AggregationLatency.WithLabelValues(timeframe).Observe(elapsed.Seconds())
}

// RecordConsistencyError records a rejected candle update.
func RecordConsistencyError(timeframe string) {
	DefaultMetrics.ConsistencyErrors.WithLabelValues(timeframe).Inc()
}

// UpdateQueueSize sets the queue depth gauge for a dispatcher worker.
func UpdateQueueSize(worker string, size int) {
	DefaultMetrics.DispatcherQueueSize.WithLabelValues(worker).Set(float64(size))
}

// RecordArchiveBatch records a tick archive batch write.
func RecordArchiveBatch(ticks int, err error) {
	if err != nil {
		DefaultMetrics.ArchiveBatches.WithLabelValues("error").Inc()
		return
	}
	DefaultMetrics.ArchiveBatches.WithLabelValues("ok").Inc()
	DefaultMetrics.ArchivedTicks.Add(float64(ticks))
}

// RecordFeedMessage records a feed message by source ("ws", "kafka") and status.
func RecordFeedMessage(source, status string) {
	DefaultMetrics.FeedMessages.WithLabelValues(source, status).Inc()
}

// RecordFeedReconnect records a feed reconnect attempt.
func RecordFeedReconnect(source string) {
	DefaultMetrics.FeedReconnects.WithLabelValues(source).Inc()
}

// RecordSweep records a retention sweep; failed lists the targets that errored.
func RecordSweep(deleted map[string]int64, failed []string, elapsed time.Duration) {
	for target, n := range deleted {
		DefaultMetrics.SweepDeleted.WithLabelValues(target).Add(float64(n))
	}
	for _, target := range failed {
		DefaultMetrics.SweepFailures.WithLabelValues(target).Inc()
	}
	DefaultMetrics.SweepDuration.Observe(elapsed.Seconds())
	if len(failed) == 0 {
		DefaultMetrics.LastSuccessfulSweep.SetToCurrentTime()
	}
}

// RecordQuery records a candle query duration.
func RecordQuery(operation string, elapsed time.Duration) {
	DefaultMetrics.QueryDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
