package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/domain/event"
	"github.com/kailas-cloud/quotagate/internal/domain/usage/metrics"
)

// DefaultDedupeSize bounds the number of remembered correlation ids.
const DefaultDedupeSize = 10000

type counts struct {
	completed   int
	denied      int
	uncommitted int
	units       int64
}

// Aggregator folds terminal access events into per-subscriber UTC-day buckets.
// Recording is idempotent per (correlation id, type) within the dedupe window.
type Aggregator struct {
	sink   UnitsSink
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[string]map[time.Time]*counts
	seen    map[string]struct{}
	order   []string
	next    int
}

// NewAggregator creates an aggregator. sink may be nil.
func NewAggregator(dedupeSize int, sink UnitsSink, logger *zap.Logger) *Aggregator {
	if dedupeSize <= 0 {
		dedupeSize = DefaultDedupeSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sink:    sink,
		logger:  logger,
		buckets: make(map[string]map[time.Time]*counts),
		seen:    make(map[string]struct{}, dedupeSize),
		order:   make([]string, dedupeSize),
	}
}

// Record adds e to its bucket. Returns false for a duplicate.
func (a *Aggregator) Record(e event.Event) bool {
	key := string(e.Type) + "/" + e.CorrelationID

	a.mu.Lock()
	defer a.mu.Unlock()

	if e.CorrelationID != "" {
		if _, dup := a.seen[key]; dup {
			return false
		}
		if old := a.order[a.next]; old != "" {
			delete(a.seen, old)
		}
		a.order[a.next] = key
		a.next = (a.next + 1) % len(a.order)
		a.seen[key] = struct{}{}
	}

	day := dayStart(e.Timestamp)
	days, ok := a.buckets[e.SubscriberID]
	if !ok {
		days = make(map[time.Time]*counts)
		a.buckets[e.SubscriberID] = days
	}
	c, ok := days[day]
	if !ok {
		c = &counts{}
		days[day] = c
	}

	switch e.Type {
	case event.TypeCommit:
		c.completed++
		c.units += e.Cost
	case event.TypeDenied:
		c.denied++
	case event.TypeUsage:
		c.uncommitted++
	}
	return true
}

// Totals sums buckets whose day falls in [from, to). A zero bound is open.
func (a *Aggregator) Totals(subscriberID string, from, to time.Time) metrics.Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sum counts
	for day, c := range a.buckets[subscriberID] {
		if !from.IsZero() && day.Before(dayStart(from)) {
			continue
		}
		if !to.IsZero() && !day.Before(to) {
			continue
		}
		sum.completed += c.completed
		sum.denied += c.denied
		sum.uncommitted += c.uncommitted
		sum.units += c.units
	}
	return metrics.New(sum.completed, sum.denied, sum.uncommitted, sum.units)
}

// Prune drops buckets for days before cutoff and returns how many were removed.
func (a *Aggregator) Prune(cutoff time.Time) int {
	cutoff = dayStart(cutoff)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, days := range a.buckets {
		for day := range days {
			if day.Before(cutoff) {
				delete(days, day)
				removed++
			}
		}
		if len(days) == 0 {
			delete(a.buckets, id)
		}
	}
	return removed
}

// Run records events from ch until ch closes or ctx is done.
// Commit events are also written to the sink when one is configured.
func (a *Aggregator) Run(ctx context.Context, ch <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !a.Record(e) || a.sink == nil || e.Type != event.TypeCommit {
				continue
			}
			if err := a.sink.Add(ctx, e.SubscriberID, e.Timestamp, e.Cost); err != nil {
				a.logger.Warn("usage counter write failed",
					zap.String("subscriber_id", e.SubscriberID),
					zap.String("correlation_id", e.CorrelationID),
					zap.Error(err),
				)
			}
		}
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
