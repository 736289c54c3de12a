package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockLedger struct {
	err   error
	state string
}

func (m *mockLedger) Ping(_ context.Context) error { return m.err }
func (m *mockLedger) BreakerState() string         { return m.state }

type mockCapability struct {
	err error
}

func (m *mockCapability) HealthCheck(_ context.Context) error { return m.err }

// hangingPinger blocks until its probe context ends.
type hangingPinger struct{}

func (hangingPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockLedger{state: "closed"}, &mockPinger{}, &mockCapability{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{"ledger", "database", "capability"} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
	if r.Breaker != "closed" {
		t.Errorf("expected breaker closed, got %q", r.Breaker)
	}
}

func TestCheck_LedgerDown(t *testing.T) {
	svc := New(&mockLedger{err: errors.New("conn refused"), state: "open"}, &mockPinger{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["ledger"] != CheckError {
		t.Errorf("expected ledger %q, got %q", CheckError, r.Checks["ledger"])
	}
	if r.Breaker != "open" {
		t.Errorf("expected breaker open, got %q", r.Breaker)
	}
}

func TestCheck_DBError(t *testing.T) {
	svc := New(&mockLedger{state: "closed"}, &mockPinger{err: errors.New("conn refused")}, nil)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["database"] != CheckError {
		t.Errorf("expected database %q, got %q", CheckError, r.Checks["database"])
	}
}

func TestCheck_CapabilityError(t *testing.T) {
	svc := New(&mockLedger{state: "closed"}, nil, &mockCapability{err: errors.New("timeout")})
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["capability"] != CheckError {
		t.Errorf("expected capability %q, got %q", CheckError, r.Checks["capability"])
	}
}

func TestCheck_OptionalChecksAbsent(t *testing.T) {
	svc := New(&mockLedger{state: "closed"}, nil, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if _, ok := r.Checks["database"]; ok {
		t.Error("database check should be absent when db is nil")
	}
	if _, ok := r.Checks["capability"]; ok {
		t.Error("capability check should be absent when capability is nil")
	}
}

func TestCheck_SlowProbeTimesOut(t *testing.T) {
	svc := New(&mockLedger{state: "closed"}, hangingPinger{}, &mockCapability{}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Check took %s, probe timeout not applied", elapsed)
	}
	if r.Checks["database"] != CheckError || r.Checks["capability"] != CheckOK {
		t.Errorf("checks = %v", r.Checks)
	}
	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
}
