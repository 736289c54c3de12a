package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/quotagate/internal/domain"
	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// --- Mock ---

type mockReader struct {
	calls     atomic.Int32
	remaining atomic.Int64
	err       error
	entered   chan struct{}
	release   chan struct{}
}

func newMockReader(remaining int64) *mockReader {
	m := &mockReader{}
	m.remaining.Store(remaining)
	return m
}

func (m *mockReader) ReadEntitlement(_ context.Context, id string) (ent.Entitlement, error) {
	m.calls.Add(1)
	remaining := m.remaining.Load()
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return ent.Entitlement{}, m.err
	}
	return ent.New(id, "basic", time.Now().Add(time.Hour), remaining, "rec-"+id)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// --- Tests ---

func TestGet_HitWithinTTLMakesNoLedgerCall(t *testing.T) {
	r := newMockReader(10)
	clk := newClock()
	c := New(r, Config{TTL: time.Minute}, nil, nil).WithClock(clk.Now)

	if _, err := c.Get(context.Background(), "0xabc", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range 5 {
		clk.Advance(10 * time.Second)
		if _, err := c.Get(context.Background(), "0xabc", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// 50s elapsed, still within TTL.
	if got := r.calls.Load(); got != 1 {
		t.Errorf("ledger calls = %d, want 1", got)
	}
}

func TestGet_ExpiredEntryRefetches(t *testing.T) {
	r := newMockReader(10)
	clk := newClock()
	c := New(r, Config{TTL: time.Minute}, nil, nil).WithClock(clk.Now)

	_, _ = c.Get(context.Background(), "0xabc", false)
	clk.Advance(time.Minute)
	_, _ = c.Get(context.Background(), "0xabc", false)

	if got := r.calls.Load(); got != 2 {
		t.Errorf("ledger calls = %d, want 2", got)
	}
}

func TestInvalidate_NextGetReadsLedgerExactlyOnce(t *testing.T) {
	r := newMockReader(10)
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	_, _ = c.Get(context.Background(), "0xabc", false)
	r.remaining.Store(7)
	c.Invalidate("0xabc")

	e, err := c.Get(context.Background(), "0xabc", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.RemainingQuota() != 7 {
		t.Errorf("remaining = %d, want 7", e.RemainingQuota())
	}
	_, _ = c.Get(context.Background(), "0xabc", false)

	if got := r.calls.Load(); got != 2 {
		t.Errorf("ledger calls = %d, want 2", got)
	}
}

func TestGet_ForceRefreshBypassesCache(t *testing.T) {
	r := newMockReader(10)
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	_, _ = c.Get(context.Background(), "0xabc", false)
	r.remaining.Store(4)
	e, err := c.Get(context.Background(), "0xabc", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.RemainingQuota() != 4 {
		t.Errorf("remaining = %d, want 4", e.RemainingQuota())
	}

	// The refresh overwrote the entry.
	e, _ = c.Get(context.Background(), "0xabc", false)
	if e.RemainingQuota() != 4 {
		t.Errorf("cached remaining = %d, want 4", e.RemainingQuota())
	}
	if got := r.calls.Load(); got != 2 {
		t.Errorf("ledger calls = %d, want 2", got)
	}
}

func TestGet_ZeroTTLAlwaysReads(t *testing.T) {
	r := newMockReader(10)
	c := New(r, Config{TTL: 0}, nil, nil)

	for range 3 {
		_, _ = c.Get(context.Background(), "0xabc", false)
	}
	if got := r.calls.Load(); got != 3 {
		t.Errorf("ledger calls = %d, want 3", got)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestGet_NotFoundIsNotCached(t *testing.T) {
	r := newMockReader(0)
	r.err = domain.ErrNotFound
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	for range 2 {
		_, err := c.Get(context.Background(), "0xnobody", false)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if got := r.calls.Load(); got != 2 {
		t.Errorf("ledger calls = %d, want 2", got)
	}
}

func TestGet_FailClosedPropagatesUnavailable(t *testing.T) {
	r := newMockReader(10)
	clk := newClock()
	c := New(r, Config{TTL: time.Minute, MaxStale: time.Hour}, nil, nil).WithClock(clk.Now)

	_, _ = c.Get(context.Background(), "0xabc", false)
	clk.Advance(2 * time.Minute)
	r.err = domain.ErrLedgerUnavailable

	_, err := c.Get(context.Background(), "0xabc", false)
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestGet_ServeStaleWithinBound(t *testing.T) {
	r := newMockReader(10)
	clk := newClock()
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	c := New(r, Config{TTL: time.Minute, StalePolicy: ServeStale, MaxStale: 5 * time.Minute}, stale, nil).
		WithClock(clk.Now)

	_, _ = c.Get(context.Background(), "0xabc", false)
	clk.Advance(2 * time.Minute)
	r.err = domain.ErrLedgerUnavailable

	e, err := c.Get(context.Background(), "0xabc", false)
	if err != nil {
		t.Fatalf("expected stale entry, got %v", err)
	}
	if e.RemainingQuota() != 10 {
		t.Errorf("remaining = %d, want 10", e.RemainingQuota())
	}
	if got := testutil.ToFloat64(stale.WithLabelValues("stale")); got != 1 {
		t.Errorf("stale counter = %f, want 1", got)
	}

	clk.Advance(5 * time.Minute)
	_, err = c.Get(context.Background(), "0xabc", false)
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable past max stale, got %v", err)
	}
}

func TestGet_ConcurrentMissesCoalesce(t *testing.T) {
	r := newMockReader(10)
	r.release = make(chan struct{})
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), "0xabc", false)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	if got := r.calls.Load(); got != 1 {
		t.Errorf("ledger calls = %d, want 1", got)
	}
}

func TestInvalidate_DuringReadPreventsStore(t *testing.T) {
	r := newMockReader(10)
	r.entered = make(chan struct{}, 2)
	r.release = make(chan struct{})
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	before := make(chan ent.Entitlement, 1)
	go func() {
		e, _ := c.Get(context.Background(), "0xabc", false)
		before <- e
	}()
	<-r.entered // read started with remaining=10

	r.remaining.Store(9) // commit lands
	c.Invalidate("0xabc")

	after := make(chan ent.Entitlement, 1)
	go func() {
		e, _ := c.Get(context.Background(), "0xabc", false)
		after <- e
	}()
	<-r.entered // a fresh read, not a join of the pre-commit one
	close(r.release)

	if e := <-before; e.RemainingQuota() != 10 {
		t.Errorf("pre-commit read remaining = %d, want 10", e.RemainingQuota())
	}
	if e := <-after; e.RemainingQuota() != 9 {
		t.Fatalf("read after Invalidate returned remaining = %d, want 9", e.RemainingQuota())
	}
	if got := r.calls.Load(); got != 2 {
		t.Fatalf("ledger calls = %d, want 2", got)
	}

	// Only the post-commit read was stored.
	r.entered = nil
	e, _ := c.Get(context.Background(), "0xabc", false)
	if e.RemainingQuota() != 9 {
		t.Errorf("cached remaining = %d, want 9", e.RemainingQuota())
	}
	if got := r.calls.Load(); got != 2 {
		t.Errorf("ledger calls = %d, want 2", got)
	}
}

// ctxReader blocks until released and reports whether its context was
// cancelled underneath it.
type ctxReader struct {
	entered  chan struct{}
	release  chan struct{}
	canceled atomic.Bool
}

func (r *ctxReader) ReadEntitlement(ctx context.Context, id string) (ent.Entitlement, error) {
	r.entered <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		r.canceled.Store(true)
		return ent.Entitlement{}, ctx.Err()
	}
	return ent.New(id, "basic", time.Now().Add(time.Hour), 10, "rec-"+id)
}

func TestGet_LeaderCancellationDoesNotFailJoinedCallers(t *testing.T) {
	r := &ctxReader{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(r, Config{TTL: time.Minute}, nil, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "0xabc", false)
		leaderErr <- err
	}()
	<-r.entered

	joined := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "0xabc", false)
		joined <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader err = %v, want context.Canceled", err)
	}
	close(r.release)

	if err := <-joined; err != nil {
		t.Fatalf("joined caller failed with the leader's cancellation: %v", err)
	}
	if r.canceled.Load() {
		t.Error("shared ledger read was cancelled by the leader")
	}
}
