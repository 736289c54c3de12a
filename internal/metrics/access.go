package metrics

import "github.com/prometheus/client_golang/prometheus"

// Access-control Prometheus metrics.
var (
	AccessOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "access_outcomes_total",
			Help:      "Terminal access decisions by state and reason",
		},
		[]string{"state", "reason"},
	)

	QuotaUnitsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "quota_units_committed_total",
			Help:      "Quota units debited from the ledger",
		},
		[]string{"tier"},
	)

	LedgerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "ledger_requests_total",
			Help:      "Total number of ledger calls",
		},
		[]string{"op", "status"},
	)

	LedgerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotagate",
			Name:      "ledger_request_duration_seconds",
			Help:      "Ledger call duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	LedgerBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotagate",
			Name:      "ledger_breaker_state",
			Help:      "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	EntitlementCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "entitlement_cache_total",
			Help:      "Entitlement cache lookups",
		},
		[]string{"result"}, // "hit" / "miss" / "refresh" / "stale"
	)

	CommitAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "commit_anomalies_total",
			Help:      "Responses delivered without a successful ledger commit",
		},
	)

	CapabilityRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "capability_requests_total",
			Help:      "Capability executions by provider and status",
		},
		[]string{"provider", "model", "status"},
	)

	CapabilityRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotagate",
			Name:      "capability_request_duration_seconds",
			Help:      "Capability execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	CapabilityTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "capability_tokens_total",
			Help:      "Provider tokens consumed by capability executions",
		},
		[]string{"provider", "model", "type"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "events_published_total",
			Help:      "Analytics events by type and delivery result",
		},
		[]string{"type", "result"}, // "delivered" / "dropped"
	)
)

var accessMetricsRegistered bool

// RegisterAccessMetrics registers access-control metrics. Must be called once from main.
func RegisterAccessMetrics() {
	if accessMetricsRegistered {
		return
	}
	prometheus.MustRegister(AccessOutcomesTotal)
	prometheus.MustRegister(QuotaUnitsCommittedTotal)
	prometheus.MustRegister(LedgerRequestsTotal)
	prometheus.MustRegister(LedgerRequestDuration)
	prometheus.MustRegister(LedgerBreakerState)
	prometheus.MustRegister(EntitlementCacheTotal)
	prometheus.MustRegister(CommitAnomaliesTotal)
	prometheus.MustRegister(CapabilityRequestsTotal)
	prometheus.MustRegister(CapabilityRequestDuration)
	prometheus.MustRegister(CapabilityTokensTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	accessMetricsRegistered = true
}
