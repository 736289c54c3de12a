package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
)

// Decision is the result of one Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count int
	start time.Time
}

// Limiter is a process-local fixed-window rate limiter keyed by subscriber.
// It does no I/O, so it runs before any ledger call.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a limiter allowing max requests per window.
// Non-positive values fall back to the defaults.
func New(maxRequests int, win time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = domain.DefaultRateLimitMax
	}
	if win <= 0 {
		win = domain.DefaultRateLimitWindow
	}
	return &Limiter{
		max:     maxRequests,
		window:  win,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock replaces the time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check counts one request and reports whether it is within the limit.
// Denied requests still count toward the current window.
func (l *Limiter) Check(subscriberID string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[subscriberID]
	if !ok || !now.Before(w.start.Add(l.window)) {
		w = &window{start: now}
		l.windows[subscriberID] = w
	}
	w.count++

	return Decision{
		Allowed:   w.count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-w.count, 0),
		ResetAt:   w.start.Add(l.window),
	}
}

// Sweep drops windows that ended before now and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.start.Add(l.window)) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired windows every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = l.window
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}

// Tracked returns the number of live windows.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
