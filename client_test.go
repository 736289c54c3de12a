package quotagate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	anomalyrepo "github.com/kailas-cloud/quotagate/internal/repository/anomaly"
)

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func grant(t *testing.T, c *Client, id, tierID string, quota int64) {
	t.Helper()
	err := c.Grant(context.Background(), Grant{
		SubscriberID: id,
		TierID:       tierID,
		ExpiresAt:    time.Now().Add(time.Hour),
		Quota:        quota,
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
}

// --- Fakes ---

type fakeLedger struct {
	mu        sync.Mutex
	ents      map[string]Entitlement
	commits   map[string]CommitReceipt
	commitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{ents: make(map[string]Entitlement), commits: make(map[string]CommitReceipt)}
}

func (f *fakeLedger) ReadEntitlement(_ context.Context, id string) (Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.ents[id]
	if !ok {
		return Entitlement{}, fmt.Errorf("entitlement %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (f *fakeLedger) CommitUsage(_ context.Context, id string, cost int64, corr string) (CommitReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return CommitReceipt{}, f.commitErr
	}
	if rc, ok := f.commits[corr]; ok {
		rc.Replayed = true
		return rc, nil
	}
	e := f.ents[id]
	if e.RemainingQuota < cost {
		return CommitReceipt{}, ErrInsufficientQuota
	}
	e.RemainingQuota -= cost
	f.ents[id] = e
	rc := CommitReceipt{CorrelationID: corr, SubscriberID: id, Cost: cost, RemainingQuota: e.RemainingQuota}
	f.commits[corr] = rc
	return rc, nil
}

func (f *fakeLedger) Ping(context.Context) error { return nil }

type grantingLedger struct {
	*fakeLedger
}

func (g grantingLedger) Grant(_ context.Context, gr Grant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ents[gr.SubscriberID] = Entitlement{
		SubscriberID:   gr.SubscriberID,
		TierID:         gr.TierID,
		ExpiresAt:      gr.ExpiresAt,
		RemainingQuota: gr.Quota,
	}
	return nil
}

type capabilityFunc func(ctx context.Context, payload, tierID string) (string, error)

func (f capabilityFunc) Execute(ctx context.Context, payload, tierID string) (string, error) {
	return f(ctx, payload, tierID)
}

// --- Tests ---

func TestSubmit_Completed(t *testing.T) {
	c := newClient(t)
	grant(t, c, "0xabc", "basic", 10)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "forecast gas fees"})

	if o.State != StateCompleted {
		t.Fatalf("state = %s (%v)", o.State, o.Err())
	}
	if o.Cost != 3 || o.RemainingQuota != 7 {
		t.Errorf("cost = %d remaining = %d, want 3 and 7", o.Cost, o.RemainingQuota)
	}
	if o.CorrelationID == "" || o.Receipt == nil {
		t.Fatal("expected correlation id and receipt")
	}
	if !c.Verify(*o.Receipt, o.Content) {
		t.Error("receipt must verify against the delivered content")
	}
	if !c.VerifyPayload(*o.Receipt, "forecast gas fees") {
		t.Error("receipt must verify against the payload")
	}
	if c.Verify(*o.Receipt, o.Content+"!") {
		t.Error("receipt must not verify a different response")
	}

	stored, err := c.Receipt(context.Background(), o.CorrelationID)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if stored.Attestation != o.Receipt.Attestation {
		t.Error("stored receipt differs from the returned one")
	}

	e, err := c.Entitlement(context.Background(), "0xabc", false)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if e.RemainingQuota != 7 || !e.Active || e.TierID != "basic" {
		t.Errorf("unexpected entitlement %+v", e)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	c := newClient(t)
	grant(t, c, "0xempty", "basic", 0)
	grant(t, c, "0xone", "basic", 1)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no entitlement", Request{SubscriberID: "0xnobody", Payload: "hi"}, ErrNoAccess},
		{"zero quota", Request{SubscriberID: "0xempty", Payload: "hi"}, ErrQuotaExhausted},
		{"cost above remaining", Request{SubscriberID: "0xone", Payload: "forecast"}, ErrQuotaExhausted},
		{"blank payload", Request{SubscriberID: "0xone", Payload: "  "}, ErrInvalidRequest},
		{"no subscriber", Request{Payload: "hi"}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := c.Submit(context.Background(), tt.req)
			if o.State != StateRejected {
				t.Fatalf("state = %s, want rejected", o.State)
			}
			if !errors.Is(o.Err(), tt.want) {
				t.Errorf("err = %v, want %v", o.Err(), tt.want)
			}
		})
	}
}

func TestWithRateLimit(t *testing.T) {
	c := newClient(t, WithRateLimit(2, time.Minute))
	grant(t, c, "0xabc", "basic", 100)

	for i := range 2 {
		if o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi"}); o.State != StateCompleted {
			t.Fatalf("request %d: state = %s (%v)", i, o.State, o.Err())
		}
	}
	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi"})
	if o.Reason != ReasonRateLimited {
		t.Fatalf("reason = %s, want rate_limited", o.Reason)
	}
	if o.RateLimit.Limit != 2 || o.RateLimit.Remaining != 0 {
		t.Errorf("unexpected rate limit %+v", o.RateLimit)
	}
}

func TestWithTiers(t *testing.T) {
	c := newClient(t, WithTiers(map[string]Tier{"gold": {PricingMultiplier: 0.5, MaxPayloadLength: 100}}))
	grant(t, c, "0xabc", "gold", 10)
	grant(t, c, "0xdef", "basic", 10)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "forecast"})
	if o.State != StateCompleted || o.Cost != 1 {
		t.Fatalf("state = %s cost = %d, want completed at 1", o.State, o.Cost)
	}

	o = c.Submit(context.Background(), Request{SubscriberID: "0xdef", Payload: "hi"})
	if !errors.Is(o.Err(), ErrInvalidRequest) {
		t.Errorf("tier outside the catalog: err = %v, want invalid request", o.Err())
	}
}

func TestWithTiers_InvalidMultiplier(t *testing.T) {
	_, err := New(context.Background(), WithTiers(map[string]Tier{"free": {PricingMultiplier: 0}}))
	if err == nil {
		t.Fatal("expected error for zero multiplier")
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), WithLedgerDriver("mongo", ""))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestWithLedgerDriver_SQLite(t *testing.T) {
	c := newClient(t, WithLedgerDriver("sqlite", filepath.Join(t.TempDir(), "ledger.db")))
	grant(t, c, "0xabc", "premium", 5)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "forecast"})

	if o.State != StateCompleted || o.Cost != 2 || o.RemainingQuota != 3 {
		t.Fatalf("state = %s cost = %d remaining = %d", o.State, o.Cost, o.RemainingQuota)
	}
}

func TestWithLedger_Custom(t *testing.T) {
	l := grantingLedger{newFakeLedger()}
	c := newClient(t, WithLedger(l))
	grant(t, c, "0xabc", "basic", 4)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi", CorrelationID: "corr-1"})
	if o.State != StateCompleted || o.RemainingQuota != 3 {
		t.Fatalf("state = %s remaining = %d", o.State, o.RemainingQuota)
	}
	if _, ok := l.commits["corr-1"]; !ok {
		t.Error("commit did not reach the custom ledger")
	}

	// Replaying the correlation id does not debit again.
	o = c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi", CorrelationID: "corr-1"})
	if o.State != StateCompleted || o.RemainingQuota != 3 {
		t.Fatalf("replay: state = %s remaining = %d", o.State, o.RemainingQuota)
	}
}

func TestWithLedger_GrantUnsupported(t *testing.T) {
	c := newClient(t, WithLedger(newFakeLedger()))

	err := c.Grant(context.Background(), Grant{SubscriberID: "0xabc", TierID: "basic", Quota: 1})

	if !errors.Is(err, ErrGrantUnsupported) {
		t.Fatalf("err = %v, want ErrGrantUnsupported", err)
	}
}

func TestWithCapability_FailureConsumesNothing(t *testing.T) {
	c := newClient(t, WithCapability(capabilityFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("upstream down")
	})))
	grant(t, c, "0xabc", "basic", 5)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi"})

	if !errors.Is(o.Err(), ErrExecutionFailed) {
		t.Fatalf("err = %v, want execution failed", o.Err())
	}
	e, err := c.Entitlement(context.Background(), "0xabc", true)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if e.RemainingQuota != 5 {
		t.Errorf("remaining = %d, want 5", e.RemainingQuota)
	}
}

func TestWithCapability_ReceivesTier(t *testing.T) {
	var gotTier string
	c := newClient(t, WithCapability(capabilityFunc(func(_ context.Context, payload, tierID string) (string, error) {
		gotTier = tierID
		return "echo " + payload, nil
	})))
	grant(t, c, "0xabc", "enterprise", 5)

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi"})

	if o.Content != "echo hi" || gotTier != "enterprise" {
		t.Errorf("content = %q tier = %q", o.Content, gotTier)
	}
}

func TestSubscribe(t *testing.T) {
	c := newClient(t)
	grant(t, c, "0xabc", "basic", 5)
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	o := c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "hi"})
	c.Submit(context.Background(), Request{SubscriberID: "0xnobody", Payload: "hi"})

	want := []struct {
		typ  EventType
		corr string
	}{{EventCommit, o.CorrelationID}, {EventDenied, ""}}
	for i, w := range want {
		select {
		case e := <-ch:
			if e.Type != w.typ {
				t.Errorf("event %d: type = %s, want %s", i, e.Type, w.typ)
			}
			if w.corr != "" && e.CorrelationID != w.corr {
				t.Errorf("event %d: correlation id = %s, want %s", i, e.CorrelationID, w.corr)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not received", i)
		}
	}
}

func TestWithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, WithPrometheus(reg))
	grant(t, c, "0xabc", "basic", 5)

	c.Submit(context.Background(), Request{SubscriberID: "0xabc", Payload: "forecast"})
	c.Submit(context.Background(), Request{SubscriberID: "0xnobody", Payload: "hi"})

	m, err := newLibMetrics(reg)
	if err != nil {
		t.Fatalf("second registration must reuse collectors: %v", err)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("completed", "")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("rejected", "no_access")); got != 1 {
		t.Errorf("no_access = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.units.WithLabelValues("basic")); got != 3 {
		t.Errorf("units = %v, want 3", got)
	}
}

func TestWithAnomalyJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "anomalies.db")
	l := grantingLedger{newFakeLedger()}

	c, err := New(ctx, WithLedger(l), WithAnomalyJournal(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	grant(t, c, "0xabc", "basic", 5)
	l.commitErr = fmt.Errorf("lost race: %w", ErrInsufficientQuota)

	o := c.Submit(ctx, Request{SubscriberID: "0xabc", Payload: "hi", CorrelationID: "corr-9"})
	c.Close()

	if o.Reason != ReasonCommitFailed || o.Content == "" {
		t.Fatalf("reason = %s content = %q, want commit_failed with content", o.Reason, o.Content)
	}
	if !errors.Is(o.Err(), ErrInsufficientQuota) {
		t.Errorf("err = %v, want insufficient quota in chain", o.Err())
	}

	j, err := anomalyrepo.Open(ctx, path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()
	list, err := j.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].CorrelationID != "corr-9" {
		t.Fatalf("unexpected anomalies %+v", list)
	}
}
