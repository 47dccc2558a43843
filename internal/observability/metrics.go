// Package observability exposes the agent's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerDepth tracks the number of delivery ledger rows per status.
	LedgerDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaydesk_ledger_depth",
		Help: "Current number of ledger rows by status",
	}, []string{"status"})

	// DeliveriesTotal tracks completed delivery attempts by outcome.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_deliveries_total",
		Help: "Total delivery attempts by outcome",
	}, []string{"source_id", "target_id", "outcome"})

	// DeliveryFailuresTotal tracks failed delivery attempts by diagnosed category.
	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_delivery_failures_total",
		Help: "Total delivery failures by diagnosed category",
	}, []string{"target_id", "category"})

	// WorkerTickDuration tracks how long one DeliveryWorker batch takes.
	WorkerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relaydesk_delivery_worker_tick_seconds",
		Help:    "Duration of one delivery worker batch processing pass",
		Buckets: prometheus.DefBuckets,
	})

	// ScheduleTickDuration tracks how long one ScheduledWorker pass takes.
	ScheduleTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relaydesk_schedule_worker_tick_seconds",
		Help:    "Duration of one scheduled worker evaluation pass",
		Buckets: prometheus.DefBuckets,
	})

	// TargetsDegraded tracks whether a target is currently degraded (1) or healthy (0).
	TargetsDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaydesk_target_degraded",
		Help: "1 if the target is currently degraded, 0 if healthy",
	}, []string{"target_id"})

	// DlqTotal tracks deliveries that exhausted retries and moved to the DLQ.
	DlqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_dlq_total",
		Help: "Total deliveries moved to the dead-letter queue",
	}, []string{"source_id", "target_id"})

	// OrphansRecovered tracks stale in-flight rows reclaimed at startup.
	OrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_orphans_recovered_total",
		Help: "Total in-flight ledger rows reclaimed as orphans at startup",
	})
)
