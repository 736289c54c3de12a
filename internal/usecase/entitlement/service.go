package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/quotagate/internal/domain"
	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// StalePolicy decides what Get does when the ledger is unavailable.
type StalePolicy string

// Stale policies.
const (
	FailClosed StalePolicy = "fail_closed"
	ServeStale StalePolicy = "serve_stale"
)

// Config configures the cache.
type Config struct {
	// TTL is how long a read is served without consulting the ledger.
	// Zero disables caching.
	TTL time.Duration
	// StalePolicy defaults to FailClosed.
	StalePolicy StalePolicy
	// MaxStale bounds the age of an entry served under ServeStale.
	MaxStale time.Duration
}

type entry struct {
	ent       ent.Entitlement
	fetchedAt time.Time
}

// Cache is a TTL cache of ledger entitlements.
//
// Each subscriber has a generation counter bumped by Invalidate. A ledger
// read only stores its result if the generation is unchanged, so a read
// racing a commit never resurrects the pre-commit quota.
type Cache struct {
	reader     Reader
	cfg        Config
	now        func() time.Time
	group      singleflight.Group
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
}

// New creates a Cache. cacheTotal (label "result") may be nil.
func New(r Reader, cfg Config, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if cfg.StalePolicy == "" {
		cfg.StalePolicy = FailClosed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		reader:     r,
		cfg:        cfg,
		now:        time.Now,
		cacheTotal: cacheTotal,
		logger:     logger,
		entries:    make(map[string]entry),
		gens:       make(map[string]uint64),
	}
}

// WithClock replaces the time source. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the subscriber's entitlement. Within TTL and without
// forceRefresh it makes no ledger call.
func (c *Cache) Get(ctx context.Context, subscriberID string, forceRefresh bool) (ent.Entitlement, error) {
	if !forceRefresh {
		if e, ok := c.fresh(subscriberID); ok {
			c.inc("hit")
			return e, nil
		}
	}

	if forceRefresh || c.cfg.TTL <= 0 {
		c.inc("refresh")
		return c.fetch(ctx, subscriberID)
	}

	c.inc("miss")
	// The shared read must not die with whichever caller started it; the
	// ledger client bounds it with its own read timeout.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(subscriberID, func() (any, error) {
		return c.fetch(shared, subscriberID)
	})
	select {
	case <-ctx.Done():
		return ent.Entitlement{}, fmt.Errorf("read entitlement %s: %w", subscriberID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return ent.Entitlement{}, res.Err
		}
		return res.Val.(ent.Entitlement), nil
	}
}

// Invalidate drops the cached entry. A read already in flight may neither
// store its result nor be joined by later callers.
func (c *Cache) Invalidate(subscriberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subscriberID)
	c.gens[subscriberID]++
	c.group.Forget(subscriberID)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fresh(subscriberID string) (ent.Entitlement, bool) {
	if c.cfg.TTL <= 0 {
		return ent.Entitlement{}, false
	}
	c.mu.Lock()
	e, ok := c.entries[subscriberID]
	c.mu.Unlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.cfg.TTL {
		return ent.Entitlement{}, false
	}
	return e.ent, true
}

func (c *Cache) fetch(ctx context.Context, subscriberID string) (ent.Entitlement, error) {
	c.mu.Lock()
	gen := c.gens[subscriberID]
	c.mu.Unlock()

	e, err := c.reader.ReadEntitlement(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.mu.Lock()
			if c.gens[subscriberID] == gen {
				delete(c.entries, subscriberID)
			}
			c.mu.Unlock()
			return ent.Entitlement{}, err
		}
		if stale, ok := c.stale(subscriberID, err); ok {
			return stale, nil
		}
		return ent.Entitlement{}, fmt.Errorf("read entitlement %s: %w", subscriberID, err)
	}

	if c.cfg.TTL > 0 {
		c.mu.Lock()
		if c.gens[subscriberID] == gen {
			c.entries[subscriberID] = entry{ent: e, fetchedAt: c.now()}
		}
		c.mu.Unlock()
	}
	return e, nil
}

func (c *Cache) stale(subscriberID string, cause error) (ent.Entitlement, bool) {
	if c.cfg.StalePolicy != ServeStale || !errors.Is(cause, domain.ErrLedgerUnavailable) {
		return ent.Entitlement{}, false
	}
	c.mu.Lock()
	e, ok := c.entries[subscriberID]
	c.mu.Unlock()
	if !ok {
		return ent.Entitlement{}, false
	}
	age := c.now().Sub(e.fetchedAt)
	if age >= c.cfg.MaxStale {
		return ent.Entitlement{}, false
	}
	c.inc("stale")
	c.logger.Warn("serving stale entitlement",
		zap.String("subscriber_id", subscriberID),
		zap.Duration("age", age),
		zap.Error(cause),
	)
	return e.ent, true
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
