package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/anomaly"
	"github.com/kailas-cloud/quotagate/internal/domain/event"
	"github.com/kailas-cloud/quotagate/internal/domain/outcome"
	domreceipt "github.com/kailas-cloud/quotagate/internal/domain/receipt"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
	"github.com/kailas-cloud/quotagate/internal/usecase/receipt"
)

// Deps are the collaborators of a Controller. Receipts, Anomalies and
// Events are optional.
type Deps struct {
	Limiter      Limiter
	Entitlements EntitlementCache
	Pricer       Pricer
	Ledger       Committer
	Capability   domain.Capability
	Issuer       ReceiptIssuer
	Receipts     ReceiptStore
	Anomalies    AnomalyRecorder
	Events       Publisher
}

// Config configures a Controller.
type Config struct {
	Tiers            tier.Catalog
	ExecutionTimeout time.Duration
	// JournalTimeout bounds anomaly and receipt writes.
	JournalTimeout time.Duration
}

// Metrics are the collectors the controller updates. Any may be nil.
type Metrics struct {
	Outcomes  *prometheus.CounterVec // labels: state, reason
	Units     *prometheus.CounterVec // labels: tier
	Anomalies prometheus.Counter
}

// Controller runs one request through the access state machine:
// rate check, entitlement check, pricing, execution, commit.
type Controller struct {
	d       Deps
	cfg     Config
	m       Metrics
	logger  *zap.Logger
	anomaly *zap.Logger
	now     func() time.Time
}

// New creates a Controller.
func New(d Deps, cfg Config, m Metrics, logger *zap.Logger) *Controller {
	if d.Issuer == nil {
		d.Issuer = receipt.New()
	}
	if cfg.Tiers == nil {
		cfg.Tiers = tier.DefaultCatalog()
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = domain.DefaultExecutionTimeout
	}
	if cfg.JournalTimeout <= 0 {
		cfg.JournalTimeout = domain.DefaultCommitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		d:       d,
		cfg:     cfg,
		m:       m,
		logger:  logger,
		anomaly: logger.Named("anomaly"),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Submit runs req to a terminal outcome. It never returns an error:
// rejections are reported through Outcome.Reason and Outcome.Err.
func (c *Controller) Submit(ctx context.Context, req request.Request) outcome.Outcome {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = c.now()
	}

	o := outcome.Outcome{
		State:         outcome.StateReceived,
		CorrelationID: req.CorrelationID,
		SubscriberID:  req.SubscriberID,
	}
	log := c.logger.With(
		zap.String("correlation_id", req.CorrelationID),
		zap.String("subscriber_id", req.SubscriberID),
	)

	if req.SubscriberID == "" {
		return c.reject(log, o, outcome.ReasonInvalidRequest, domain.NewInvalidRequest("subscriber id is required"))
	}

	// received -> rate_checked
	d := c.d.Limiter.Check(req.SubscriberID)
	o.RateLimit = outcome.RateLimit{Limit: d.Limit, Remaining: d.Remaining, ResetAt: d.ResetAt}
	if !d.Allowed {
		return c.reject(log, o, outcome.ReasonRateLimited, nil)
	}
	o.State = outcome.StateRateChecked

	// rate_checked -> entitlement_checked
	e, err := c.d.Entitlements.Get(ctx, req.SubscriberID, false)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.reject(log, o, outcome.ReasonNoAccess, nil)
		}
		return c.reject(log, o, outcome.ReasonLedgerUnavailable, err)
	}
	now := c.now()
	if !e.Usable(now) {
		return c.reject(log, o, outcome.ReasonNoAccess, nil)
	}
	o.TierID = e.TierID()
	o.RemainingQuota = e.RemainingQuota()
	if e.RemainingQuota() == 0 {
		return c.reject(log, o, outcome.ReasonQuotaExhausted, nil)
	}
	o.State = outcome.StateEntitlementChecked

	// entitlement_checked -> priced
	t, ok := c.cfg.Tiers.Lookup(e.TierID())
	if !ok {
		return c.reject(log, o, outcome.ReasonInvalidRequest, domain.NewInvalidRequest("unknown tier %q", e.TierID()))
	}
	priced, err := c.d.Pricer.Price(req, t)
	if err != nil {
		return c.reject(log, o, outcome.ReasonInvalidRequest, err)
	}
	o.Cost = priced.Cost
	o.State = outcome.StatePriced
	if !e.Covers(now, priced.Cost) {
		return c.reject(log, o, outcome.ReasonQuotaExhausted, nil)
	}

	// priced -> executed
	content, err := c.execute(ctx, req.Payload, t.ID)
	if err != nil {
		log.Warn("capability failed", zap.String("tier", t.ID), zap.Error(err))
		return c.reject(log, o, outcome.ReasonExecutionFailed, err)
	}
	o.Content = content
	o.State = outcome.StateExecuted

	// executed -> committed. The response exists, so the debit outlives
	// the caller's context; the ledger client bounds it.
	rc, err := c.d.Ledger.CommitUsage(context.WithoutCancel(ctx), req.SubscriberID, priced.Cost, req.CorrelationID)
	if err != nil {
		return c.commitFailed(ctx, log, o, priced, err)
	}
	c.d.Entitlements.Invalidate(req.SubscriberID)
	o.State = outcome.StateCommitted
	o.RemainingQuota = rc.RemainingQuota

	// committed -> completed
	r := c.d.Issuer.Issue(priced, content)
	o.Receipt = &r
	c.saveReceipt(ctx, log, r)

	if c.m.Units != nil && !rc.Replayed {
		c.m.Units.WithLabelValues(t.ID).Add(float64(priced.Cost))
	}
	c.publish(event.TypeCommit, o, "")
	c.count(outcome.StateCompleted, outcome.ReasonNone)
	log.Debug("request completed",
		zap.String("tier", t.ID),
		zap.Int64("cost", priced.Cost),
		zap.Int64("remaining_quota", rc.RemainingQuota),
		zap.Bool("replayed", rc.Replayed),
	)
	return outcome.Completed(o)
}

func (c *Controller) execute(ctx context.Context, payload, tierID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	type result struct {
		content string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := c.d.Capability.Execute(ctx, payload, tierID)
		done <- result{content, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("execute: %w", res.err)
		}
		return res.content, nil
	case <-ctx.Done():
		return "", fmt.Errorf("execute: %w", ctx.Err())
	}
}

// commitFailed handles a response that was produced but not debited.
// The caller still receives the content; the anomaly is journaled.
func (c *Controller) commitFailed(
	ctx context.Context, log *zap.Logger, o outcome.Outcome, p request.Priced, cause error,
) outcome.Outcome {
	a := anomaly.Anomaly{
		CorrelationID:  o.CorrelationID,
		SubscriberID:   o.SubscriberID,
		TierID:         p.TierID,
		Cost:           p.Cost,
		ResponseDigest: receipt.Digest(o.Content),
		Cause:          cause.Error(),
		OccurredAt:     c.now().UTC(),
	}

	c.anomaly.Error("commit failed after delivery",
		zap.String("correlation_id", a.CorrelationID),
		zap.String("subscriber_id", a.SubscriberID),
		zap.String("tier", a.TierID),
		zap.Int64("cost", a.Cost),
		zap.Error(cause),
	)
	if c.m.Anomalies != nil {
		c.m.Anomalies.Inc()
	}

	if c.d.Anomalies != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.JournalTimeout)
		if err := c.d.Anomalies.Record(jctx, a); err != nil {
			c.anomaly.Error("anomaly journal write failed",
				zap.String("correlation_id", a.CorrelationID),
				zap.Error(err),
			)
		}
		cancel()
	}

	// The ledger disagreed with the cached view; re-read it.
	if errors.Is(cause, domain.ErrInsufficientQuota) || errors.Is(cause, domain.ErrNotFound) {
		if e, err := c.d.Entitlements.Get(ctx, o.SubscriberID, true); err == nil {
			o.RemainingQuota = e.RemainingQuota()
		} else {
			log.Debug("refresh after rejected commit failed", zap.Error(err))
		}
	}

	o.Detail = "response delivered but usage could not be recorded"
	c.publish(event.TypeUsage, o, string(outcome.ReasonCommitFailed))
	c.count(outcome.StateRejected, outcome.ReasonCommitFailed)
	return outcome.Rejected(o, outcome.ReasonCommitFailed, cause)
}

func (c *Controller) reject(log *zap.Logger, o outcome.Outcome, reason outcome.Reason, cause error) outcome.Outcome {
	o.Detail = detail(reason, cause)

	fields := []zap.Field{zap.String("reason", string(reason)), zap.String("state", string(o.State))}
	switch reason {
	case outcome.ReasonLedgerUnavailable:
		log.Warn("request rejected", append(fields, zap.Error(cause))...)
	case outcome.ReasonExecutionFailed:
		// already logged
	default:
		log.Debug("request rejected", fields...)
	}

	c.publish(event.TypeDenied, o, string(reason))
	c.count(outcome.StateRejected, reason)
	return outcome.Rejected(o, reason, cause)
}

func (c *Controller) saveReceipt(ctx context.Context, log *zap.Logger, r domreceipt.Receipt) {
	if c.d.Receipts == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.JournalTimeout)
	defer cancel()
	if err := c.d.Receipts.Save(sctx, r); err != nil {
		log.Warn("receipt save failed", zap.Error(err))
	}
}

func (c *Controller) publish(t event.Type, o outcome.Outcome, reason string) {
	if c.d.Events == nil {
		return
	}
	c.d.Events.Publish(event.Event{
		Type:          t,
		SubscriberID:  o.SubscriberID,
		Cost:          o.Cost,
		Timestamp:     c.now().UTC(),
		CorrelationID: o.CorrelationID,
		Reason:        reason,
	})
}

func (c *Controller) count(s outcome.State, r outcome.Reason) {
	if c.m.Outcomes != nil {
		c.m.Outcomes.WithLabelValues(string(s), string(r)).Inc()
	}
}

// detail returns a client-safe message. Transport errors are never exposed.
func detail(reason outcome.Reason, cause error) string {
	switch reason {
	case outcome.ReasonRateLimited:
		return "rate limit exceeded"
	case outcome.ReasonLedgerUnavailable:
		return "entitlement ledger unavailable, try again later"
	case outcome.ReasonNoAccess:
		return "no active entitlement"
	case outcome.ReasonQuotaExhausted:
		return "remaining quota does not cover this request"
	case outcome.ReasonInvalidRequest:
		var ir *domain.InvalidRequestError
		if errors.As(cause, &ir) {
			return ir.Detail
		}
		return "invalid request"
	case outcome.ReasonExecutionFailed:
		return "request could not be processed"
	}
	return ""
}
