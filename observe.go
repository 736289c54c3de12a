package quotagate

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/quotagate/internal/ledger"
	accessuc "github.com/kailas-cloud/quotagate/internal/usecase/access"
)

// libMetrics are the collectors a Client updates when WithPrometheus is set.
// Names match the server's so dashboards work for both.
type libMetrics struct {
	outcomes       *prometheus.CounterVec
	units          *prometheus.CounterVec
	anomalies      prometheus.Counter
	ledgerRequests *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	breakerState   prometheus.Gauge
	cache          *prometheus.CounterVec
}

func newLibMetrics(reg prometheus.Registerer) (*libMetrics, error) {
	m := &libMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "access_outcomes_total",
			Help:      "Terminal access decisions by state and reason",
		}, []string{"state", "reason"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "quota_units_committed_total",
			Help:      "Quota units debited from the ledger",
		}, []string{"tier"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "commit_anomalies_total",
			Help:      "Responses delivered without a successful ledger commit",
		}),
		ledgerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "ledger_requests_total",
			Help:      "Total number of ledger calls",
		}, []string{"op", "status"}),
		ledgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quotagate",
			Name:      "ledger_request_duration_seconds",
			Help:      "Ledger call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quotagate",
			Name:      "ledger_breaker_state",
			Help:      "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotagate",
			Name:      "entitlement_cache_total",
			Help:      "Entitlement cache lookups",
		}, []string{"result"}),
	}

	if err := registerOrReuse(reg, &m.outcomes); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.units); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.anomalies); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.ledgerRequests); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.ledgerDuration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.breakerState); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.cache); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("quotagate: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("quotagate: register metric: %w", err)
	}
	return nil
}

func (m *libMetrics) access() accessuc.Metrics {
	if m == nil {
		return accessuc.Metrics{}
	}
	return accessuc.Metrics{Outcomes: m.outcomes, Units: m.units, Anomalies: m.anomalies}
}

func (m *libMetrics) ledger() ledger.Metrics {
	if m == nil {
		return ledger.Metrics{}
	}
	return ledger.Metrics{Requests: m.ledgerRequests, Duration: m.ledgerDuration, BreakerState: m.breakerState}
}

func (m *libMetrics) cacheTotal() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.cache
}
