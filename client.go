package quotagate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/capability/template"
	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
	"github.com/kailas-cloud/quotagate/internal/events"
	"github.com/kailas-cloud/quotagate/internal/ledger"
	"github.com/kailas-cloud/quotagate/internal/ledger/backend"
	anomalyrepo "github.com/kailas-cloud/quotagate/internal/repository/anomaly"
	receiptrepo "github.com/kailas-cloud/quotagate/internal/repository/receipt"
	accessuc "github.com/kailas-cloud/quotagate/internal/usecase/access"
	entitlementuc "github.com/kailas-cloud/quotagate/internal/usecase/entitlement"
	pricinguc "github.com/kailas-cloud/quotagate/internal/usecase/pricing"
	"github.com/kailas-cloud/quotagate/internal/usecase/ratelimit"
	receiptuc "github.com/kailas-cloud/quotagate/internal/usecase/receipt"
)

// defaultReceiptRetention bounds the in-memory receipt store.
const defaultReceiptRetention = 24 * time.Hour

// Client is the embeddable access controller.
type Client struct {
	controller *accessuc.Controller
	cache      *entitlementuc.Cache
	ledger     *ledger.Client
	granter    ledger.Granter
	issuer     *receiptuc.Generator
	receipts   *receiptrepo.Memory
	bus        *events.Bus
	journal    *anomalyrepo.Journal

	cancel      context.CancelFunc
	closeLedger func()
}

// New builds a Client. ctx bounds opening the ledger and journal; the
// Client's background work runs until Close.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tiers, err := buildCatalog(cfg.tiers)
	if err != nil {
		return nil, err
	}

	var m *libMetrics
	if cfg.metricsReg != nil {
		if m, err = newLibMetrics(cfg.metricsReg); err != nil {
			return nil, err
		}
	}

	c := &Client{closeLedger: func() {}}

	var be ledger.Backend
	if cfg.ledger != nil {
		a := &ledgerAdapter{inner: cfg.ledger}
		be, c.granter = a, a
	} else {
		p, closeFn, err := backend.Open(ctx, cfg.ledgerDriver, cfg.ledgerDSN)
		if err != nil {
			return nil, fmt.Errorf("quotagate: open ledger: %w", err)
		}
		be, c.granter, c.closeLedger = p, p, closeFn
	}

	if cfg.anomalyPath != "" {
		c.journal, err = anomalyrepo.Open(ctx, cfg.anomalyPath)
		if err != nil {
			c.closeLedger()
			return nil, fmt.Errorf("quotagate: open anomaly journal: %w", err)
		}
	}

	c.ledger = ledger.NewClient(be, ledger.DefaultConfig(), m.ledger(), logger.Named("ledger"))

	ttl := domain.DefaultCacheTTL
	if cfg.cacheTTL != nil {
		ttl = *cfg.cacheTTL
	}
	c.cache = entitlementuc.New(c.ledger, entitlementuc.Config{TTL: ttl}, m.cacheTotal(), logger)

	rateMax, rateWindow := cfg.rateMax, cfg.rateWindow
	if rateMax <= 0 {
		rateMax = domain.DefaultRateLimitMax
	}
	if rateWindow <= 0 {
		rateWindow = domain.DefaultRateLimitWindow
	}
	limiter := ratelimit.New(rateMax, rateWindow)

	capability := cfg.capability
	if capability == nil {
		capability = template.New(nil)
	}

	c.issuer = receiptuc.New()
	c.receipts = receiptrepo.NewMemory(defaultReceiptRetention)
	c.bus = events.NewBus(0, nil, logger)

	deps := accessuc.Deps{
		Limiter:      limiter,
		Entitlements: c.cache,
		Pricer:       pricinguc.New(pricinguc.DefaultConfig()),
		Ledger:       c.ledger,
		Capability:   capability,
		Issuer:       c.issuer,
		Receipts:     c.receipts,
		Events:       c.bus,
	}
	// Pass nil interface (not typed nil pointer!) without a journal.
	if c.journal != nil {
		deps.Anomalies = c.journal
	}
	c.controller = accessuc.New(deps, accessuc.Config{
		Tiers:            tiers,
		ExecutionTimeout: cfg.executionTimeout,
	}, m.access(), logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go limiter.Run(runCtx, rateWindow)

	return c, nil
}

func buildCatalog(tiers map[string]Tier) (tier.Catalog, error) {
	if len(tiers) == 0 {
		return tier.DefaultCatalog(), nil
	}
	cat := make(tier.Catalog, len(tiers))
	for id, t := range tiers {
		if t.PricingMultiplier <= 0 || t.PricingMultiplier > 1 {
			return nil, fmt.Errorf("quotagate: tier %s: pricing multiplier must be in (0, 1], got %g",
				id, t.PricingMultiplier)
		}
		cat[id] = tier.Tier{ID: id, PricingMultiplier: t.PricingMultiplier, MaxPayloadLength: t.MaxPayloadLength}
	}
	return cat, nil
}

// Close stops background work and releases the ledger and journal.
// Subscriber channels are closed.
func (c *Client) Close() {
	c.cancel()
	c.bus.Close()
	if c.journal != nil {
		_ = c.journal.Close()
	}
	c.closeLedger()
}

// Submit runs req through rate limiting, entitlement, pricing, execution
// and commit. Inspect the outcome's State, or Err for errors.Is checks.
func (c *Client) Submit(ctx context.Context, req Request) Outcome {
	return c.controller.Submit(ctx, request.Request{
		SubscriberID:  req.SubscriberID,
		Payload:       req.Payload,
		SubmittedAt:   time.Now().UTC(),
		CorrelationID: req.CorrelationID,
	})
}

// Verify reports whether response is the one r was issued for.
func (c *Client) Verify(r Receipt, response string) bool {
	return c.issuer.Verify(r, response)
}

// VerifyPayload reports whether payload is the request r covers.
func (c *Client) VerifyPayload(r Receipt, payload string) bool {
	return c.issuer.VerifyRequest(r, payload)
}

// Receipt returns a receipt issued by this Client within the last day.
func (c *Client) Receipt(ctx context.Context, correlationID string) (Receipt, error) {
	return c.receipts.Get(ctx, correlationID)
}

// Entitlement returns the subscriber's entitlement. refresh bypasses the cache.
func (c *Client) Entitlement(ctx context.Context, subscriberID string, refresh bool) (Entitlement, error) {
	e, err := c.cache.Get(ctx, subscriberID, refresh)
	if err != nil {
		return Entitlement{}, err
	}
	return toEntitlement(e, time.Now()), nil
}

// Grant creates or replaces an entitlement and drops any cached copy.
func (c *Client) Grant(ctx context.Context, g Grant) error {
	if g.SubscriberID == "" {
		return domain.NewInvalidRequest("grant without subscriber id")
	}
	err := c.granter.Grant(ctx, ledger.Grant(g))
	if err != nil {
		if errors.Is(err, ErrGrantUnsupported) {
			return err
		}
		return fmt.Errorf("quotagate: grant %s: %w", g.SubscriberID, err)
	}
	c.cache.Invalidate(g.SubscriberID)
	return nil
}

// Subscribe returns a channel of analytics events and a func that
// unsubscribes. Slow subscribers lose events rather than block requests.
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.bus.Subscribe()
}

// Ping checks that the ledger is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.ledger.Ping(ctx)
}
