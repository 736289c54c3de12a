// Package memory is an in-process ledger backend for tests, demos and the
// embeddable library.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/ledger"
)

type record struct {
	tierID    string
	expiresAt time.Time
	remaining int64
	source    string
}

// Ledger is a mutex-protected map ledger.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*record
	commits map[string]ledger.CommitReceipt
	now     func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		records: make(map[string]*record),
		commits: make(map[string]ledger.CommitReceipt),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Grant creates or replaces an entitlement.
func (l *Ledger) Grant(_ context.Context, g ledger.Grant) error {
	if g.SubscriberID == "" {
		return domain.NewInvalidRequest("grant without subscriber id")
	}
	if g.Quota < 0 {
		return domain.NewInvalidRequest("grant quota must not be negative")
	}
	source := g.SourceRecordID
	if source == "" {
		source = "memory:" + g.SubscriberID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[g.SubscriberID] = &record{
		tierID:    g.TierID,
		expiresAt: g.ExpiresAt.UTC(),
		remaining: g.Quota,
		source:    source,
	}
	return nil
}

// ReadEntitlement returns the current entitlement snapshot.
func (l *Ledger) ReadEntitlement(ctx context.Context, subscriberID string) (entitlement.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entitlement.Entitlement{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[subscriberID]
	if !ok {
		return entitlement.Entitlement{}, fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	}
	return entitlement.New(subscriberID, r.tierID, r.expiresAt, r.remaining, r.source)
}

// CommitUsage debits cost atomically.
func (l *Ledger) CommitUsage(
	ctx context.Context, subscriberID string, cost int64, correlationID string,
) (ledger.CommitReceipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.CommitReceipt{}, err
	}
	if cost < 1 {
		return ledger.CommitReceipt{}, domain.NewInvalidRequest("commit cost %d must be positive", cost)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.commits[correlationID]; ok {
		return ledger.Replay(prev, subscriberID)
	}
	r, ok := l.records[subscriberID]
	now := l.now()
	if !ok || !now.Before(r.expiresAt) {
		return ledger.CommitReceipt{}, fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	}
	if r.remaining < cost {
		return ledger.CommitReceipt{}, fmt.Errorf("debit %d from %d: %w", cost, r.remaining, domain.ErrInsufficientQuota)
	}
	r.remaining -= cost
	rc := ledger.CommitReceipt{
		CorrelationID:  correlationID,
		SubscriberID:   subscriberID,
		Cost:           cost,
		RemainingQuota: r.remaining,
		CommittedAt:    now.UTC(),
	}
	l.commits[correlationID] = rc
	return rc, nil
}

// Ping always succeeds.
func (l *Ledger) Ping(context.Context) error { return nil }

// CommitCount returns the number of distinct commits recorded.
func (l *Ledger) CommitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commits)
}

var (
	_ ledger.Backend = (*Ledger)(nil)
	_ ledger.Granter = (*Ledger)(nil)
)
