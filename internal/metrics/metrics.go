// Package metrics exposes the collector's Prometheus instrumentation,
// grounded on the teacher's pkg/metrics (gauges/counters/histograms plus a
// promhttp handler), renamed to the telemetry domain's metric families.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collector_queue_depth",
		Help: "Current number of messages buffered in the pipeline queue.",
	})

	QueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_queue_dropped_total",
		Help: "Total number of DeviceDataMessages dropped due to high-water backpressure.",
	})

	QueueReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_queue_received_total",
		Help: "Total number of DeviceDataMessages offered to the pipeline queue.",
	})

	QueueDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_queue_delivered_total",
		Help: "Total number of DeviceDataMessages delivered to a processing batch.",
	})

	WorkerStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collector_worker_status",
		Help: "Worker connection state by device id and state name (1 = current state).",
	}, []string{"device_id", "state"})

	AlarmOccurrencesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_alarm_occurrences_total",
		Help: "Total alarm occurrences created, by severity.",
	}, []string{"severity"})

	AlarmEvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_alarm_evaluations_total",
		Help: "Total number of alarm rule evaluations.",
	})

	AlarmErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_alarm_errors_total",
		Help: "Total number of alarm evaluation errors.",
	})

	VPEvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_vp_eval_duration_seconds",
		Help:    "Virtual-point formula evaluation latency.",
		Buckets: prometheus.DefBuckets,
	})

	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_batch_duration_seconds",
		Help:    "Processing-service batch latency, vpoint+alarm+persist+publish combined.",
		Buckets: prometheus.DefBuckets,
	})

	ScriptErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_script_errors_total",
		Help: "Total number of script sandbox evaluation errors (virtual points and script rules).",
	})

	StoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_store_errors_total",
		Help: "Total number of errors talking to the relational store, cache, or time-series sink.",
	}, []string{"sink"})

	RecoveryPublished = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collector_recovery_published_total",
		Help: "Number of alarm occurrences republished by the last startup recovery run.",
	})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueDroppedTotal,
		QueueReceivedTotal,
		QueueDeliveredTotal,
		WorkerStatus,
		AlarmOccurrencesTotal,
		AlarmEvaluationsTotal,
		AlarmErrorsTotal,
		VPEvalDuration,
		BatchDuration,
		ScriptErrorsTotal,
		StoreErrorsTotal,
		RecoveryPublished,
	)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
