package quotagate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	ledger       Ledger
	ledgerDriver string
	ledgerDSN    string

	capability       Capability
	executionTimeout time.Duration

	tiers      map[string]Tier
	rateMax    int
	rateWindow time.Duration
	cacheTTL   *time.Duration

	anomalyPath string

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithLedger sets a custom authoritative ledger. It takes precedence
// over WithLedgerDriver.
func WithLedger(l Ledger) Option {
	return optionFunc(func(c *clientConfig) {
		c.ledger = l
	})
}

// WithLedgerDriver selects a built-in ledger: "memory" (default),
// "sqlite" with a file path or "postgres" with a connection string.
func WithLedgerDriver(driver, dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.ledgerDriver = driver
		c.ledgerDSN = dsn
	})
}

// WithCapability sets the gated capability. Defaults to a template
// responder that answers from canned categories.
func WithCapability(capability Capability) Option {
	return optionFunc(func(c *clientConfig) {
		c.capability = capability
	})
}

// WithExecutionTimeout bounds a single capability call. Default: 30s.
func WithExecutionTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.executionTimeout = d
	})
}

// WithTiers replaces the tier catalog. Defaults to basic, premium and enterprise.
func WithTiers(tiers map[string]Tier) Option {
	return optionFunc(func(c *clientConfig) {
		c.tiers = tiers
	})
}

// WithRateLimit sets the per-subscriber fixed window. Default: 10 per minute.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.rateMax = maxRequests
		c.rateWindow = window
	})
}

// WithCacheTTL sets how long an entitlement read is trusted.
// Zero reads the ledger on every request. Default: 60s.
func WithCacheTTL(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheTTL = &d
	})
}

// WithAnomalyJournal records commit anomalies in a SQLite file.
// Without it anomalies are only logged.
func WithAnomalyJournal(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.anomalyPath = path
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers access metrics on the given registerer.
// Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
