package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics for the Sync Engine (§4.4).
var (
	SyncTicketsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "sync",
			Name:      "tickets_processed_total",
			Help:      "Total number of tickets processed by the sync engine, by table and extraction type.",
		},
		[]string{"table", "extraction_type"},
	)

	SyncTicketErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "sync",
			Name:      "ticket_errors_total",
			Help:      "Total number of per-ticket sync errors, by table.",
		},
		[]string{"table"},
	)

	SyncPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snowlink",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full sync pass for one table.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"table", "extraction_type"},
	)
)

// Metrics for the Hybrid Data Service (§4.2).
var (
	HybridCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "hybrid",
			Name:      "cache_hits_total",
			Help:      "Total number of fresh cache hits, by table.",
		},
		[]string{"table"},
	)

	HybridCacheStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "hybrid",
			Name:      "cache_stale_total",
			Help:      "Total number of stale-cache reads, by table and outcome (refreshed|degraded).",
		},
		[]string{"table", "outcome"},
	)
)

// Metrics for the SLA Engine (§4.6).
var (
	SLABreachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "sla",
			Name:      "breaches_total",
			Help:      "Total number of SLA instances that transitioned to breached, by priority.",
		},
		[]string{"priority"},
	)

	SLAInstancesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "sla",
			Name:      "instances_resolved_total",
			Help:      "Total number of SLA instances marked resolved, by priority.",
		},
		[]string{"priority"},
	)
)

// Metrics for the Notification Queue (§4.7).
var (
	NotifyEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "notify",
			Name:      "enqueued_total",
			Help:      "Total number of notifications accepted into the queue, by priority band.",
		},
		[]string{"band"},
	)

	NotifyRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "notify",
			Name:      "rejected_total",
			Help:      "Total number of notifications rejected at enqueue time, by reason.",
		},
		[]string{"reason"},
	)

	NotifyDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Total number of notifications successfully delivered, by channel.",
		},
		[]string{"channel"},
	)

	NotifyDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "notify",
			Name:      "dead_lettered_total",
			Help:      "Total number of notifications moved to the dead-letter list after retries were exhausted.",
		},
	)
)

// HTTPRequestDuration records handler latency for the scoped-down
// health/readiness/transport-upgrade HTTP surface (spec §1 excludes a full
// ticket REST API).
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "snowlink",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// Metrics for the transports (§4.8, §4.9).
var (
	TransportClientsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "snowlink",
			Subsystem: "transport",
			Name:      "clients_connected",
			Help:      "Currently connected clients, by transport kind.",
		},
		[]string{"kind"},
	)

	TransportMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowlink",
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to clients, by transport kind.",
		},
		[]string{"kind"},
	)
)

// All returns every snowlink-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SyncTicketsProcessedTotal,
		SyncTicketErrorsTotal,
		SyncPassDuration,
		HybridCacheHitsTotal,
		HybridCacheStaleTotal,
		SLABreachesTotal,
		SLAInstancesResolvedTotal,
		NotifyEnqueuedTotal,
		NotifyRejectedTotal,
		NotifyDeliveredTotal,
		NotifyDeadLetteredTotal,
		TransportClientsConnected,
		TransportMessagesSentTotal,
		HTTPRequestDuration,
	}
}
