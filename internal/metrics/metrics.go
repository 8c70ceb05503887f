// Package metrics exposes Prometheus instrumentation for the import and
// delivery subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportsStarted counts import jobs picked up by a worker.
	ImportsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_imports_started_total",
		Help: "Number of import jobs started",
	})

	// ImportsFinished counts terminal import jobs by outcome.
	ImportsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_imports_finished_total",
		Help: "Number of import jobs finished, by outcome",
	}, []string{"outcome"})

	// RowsProcessed counts rows consumed across all imports.
	RowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_rows_processed_total",
		Help: "Number of rows consumed by import jobs",
	})

	// RowsApplied counts rows applied to the store, by kind.
	RowsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_rows_applied_total",
		Help: "Number of rows applied to the product store, by kind",
	}, []string{"kind"})

	// BatchDuration observes time spent applying one upsert batch.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_import_batch_duration_seconds",
		Help:    "Time spent applying one upsert batch",
		Buckets: prometheus.DefBuckets,
	})

	// DeliveryAttempts counts webhook delivery attempts by outcome.
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_webhook_delivery_attempts_total",
		Help: "Number of webhook delivery attempts, by outcome",
	}, []string{"outcome"})

	// DeliveryLatency observes outbound webhook request latency.
	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_webhook_delivery_latency_seconds",
		Help:    "Latency of outbound webhook requests",
		Buckets: prometheus.DefBuckets,
	})

	// QueueDepth tracks the number of ready tasks per queue namespace.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_queue_ready_tasks",
		Help: "Number of tasks ready for dispatch",
	}, []string{"namespace"})
)
