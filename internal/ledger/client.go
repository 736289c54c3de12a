package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// Config bounds every ledger call.
type Config struct {
	ReadTimeout   time.Duration
	CommitTimeout time.Duration
	RetryBackoff  time.Duration
	Breaker       BreakerConfig
}

// BreakerConfig configures the circuit breaker around the backend.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state that resets counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that trips it.
	FailureThreshold uint32
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:   domain.DefaultLedgerTimeout,
		CommitTimeout: domain.DefaultCommitTimeout,
		RetryBackoff:  domain.DefaultRetryBackoff,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Metrics are optional Prometheus collectors; nil fields are skipped.
type Metrics struct {
	Requests     *prometheus.CounterVec   // labels: op, status
	Duration     *prometheus.HistogramVec // labels: op
	BreakerState prometheus.Gauge
}

// Client wraps a Backend with timeouts, a circuit breaker and a single retry.
// It does not serialise commits; the backend is the concurrency boundary.
type Client struct {
	backend Backend
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	metrics Metrics
	logger  *zap.Logger
}

// NewClient creates a ledger client.
func NewClient(backend Backend, cfg Config, m Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		backend: backend,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBusinessOutcome,
		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if m.BreakerState != nil {
				m.BreakerState.Set(float64(to))
			}
		},
	})
	return c
}

// ReadEntitlement reads the subscriber's entitlement. An unavailable
// ledger is retried once after the configured backoff.
func (c *Client) ReadEntitlement(ctx context.Context, subscriberID string) (entitlement.Entitlement, error) {
	read := func() (entitlement.Entitlement, error) {
		res, err := c.call(ctx, "read", c.cfg.ReadTimeout, func(cctx context.Context) (any, error) {
			return c.backend.ReadEntitlement(cctx, subscriberID)
		})
		if err != nil {
			return entitlement.Entitlement{}, err
		}
		return res.(entitlement.Entitlement), nil
	}

	ent, err := read()
	if !c.shouldRetry(ctx, err) {
		return ent, err
	}
	c.logger.Debug("retrying ledger read", zap.String("subscriber_id", subscriberID), zap.Error(err))
	return read()
}

// CommitUsage debits cost from the subscriber's quota. An unavailable or
// timed-out commit is retried once with the same correlation id, which the
// backend deduplicates.
func (c *Client) CommitUsage(ctx context.Context, subscriberID string, cost int64, correlationID string) (CommitReceipt, error) {
	if correlationID == "" {
		return CommitReceipt{}, domain.NewInvalidRequest("commit without correlation id")
	}
	commit := func() (CommitReceipt, error) {
		res, err := c.call(ctx, "commit", c.cfg.CommitTimeout, func(cctx context.Context) (any, error) {
			return c.backend.CommitUsage(cctx, subscriberID, cost, correlationID)
		})
		if err != nil {
			return CommitReceipt{}, err
		}
		return res.(CommitReceipt), nil
	}

	rc, err := commit()
	if !c.shouldRetry(ctx, err) {
		return rc, err
	}
	c.logger.Warn("retrying ledger commit",
		zap.String("subscriber_id", subscriberID),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	)
	return commit()
}

// Ping checks backend reachability, bypassing the breaker.
func (c *Client) Ping(ctx context.Context) error {
	cctx, cancel := withTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()
	if err := c.backend.Ping(cctx); err != nil {
		return fmt.Errorf("ledger ping: %w: %w", domain.ErrLedgerUnavailable, err)
	}
	return nil
}

// BreakerState returns the breaker state name ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// errCallerGone marks a call abandoned by its caller. It says nothing
// about ledger health, so the breaker excludes it from its counts.
var errCallerGone = errors.New("caller gone")

func (c *Client) call(
	ctx context.Context,
	op string,
	timeout time.Duration,
	fn func(context.Context) (any, error),
) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", op, err)
	}
	start := time.Now()
	res, err := c.breaker.Execute(func() (any, error) {
		cctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		res, err := fn(cctx)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, ctx.Err())
		}
		return res, err
	})
	if errors.Is(err, errCallerGone) {
		c.observe(op, start, err)
		return nil, fmt.Errorf("ledger %s: %w", op, ctx.Err())
	}
	err = classify(op, err)
	c.observe(op, start, err)
	return res, err
}

func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if !errors.Is(err, domain.ErrLedgerUnavailable) || ctx.Err() != nil {
		return false
	}
	if c.cfg.RetryBackoff <= 0 {
		return true
	}
	t := time.NewTimer(c.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics.Duration != nil {
		c.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if c.metrics.Requests != nil {
		c.metrics.Requests.WithLabelValues(op, statusLabel(err)).Inc()
	}
}

// classify normalises backend errors: business errors pass through,
// everything else becomes ErrLedgerUnavailable.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInsufficientQuota),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrLedgerUnavailable):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("ledger %s: breaker %w: %w", op, err, domain.ErrLedgerUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("ledger %s: timeout: %w", op, domain.ErrLedgerUnavailable)
	default:
		return fmt.Errorf("ledger %s: %w: %w", op, domain.ErrLedgerUnavailable, err)
	}
}

// isBusinessOutcome keeps definitive ledger answers from tripping the breaker.
func isBusinessOutcome(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInsufficientQuota) ||
		errors.Is(err, domain.ErrInvalidRequest)
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientQuota):
		return "insufficient_quota"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, errCallerGone):
		return "canceled"
	default:
		return "unavailable"
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
