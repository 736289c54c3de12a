package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the aggregated health of the gateway.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the ledger is unreachable; no request can be served.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report is the outcome of one Check. Breaker is the ledger circuit state.
type Report struct {
	Status  Status
	Checks  map[string]CheckResult
	Breaker string
}

// DefaultCheckTimeout bounds each component probe.
const DefaultCheckTimeout = 2 * time.Second

// Service coordinates health checks.
type Service struct {
	ledger     LedgerChecker
	db         Pinger
	capability CapabilityChecker
	timeout    time.Duration
}

// New creates a Service. db and capability can be nil.
func New(ledger LedgerChecker, db Pinger, capability CapabilityChecker) *Service {
	return &Service{ledger: ledger, db: db, capability: capability, timeout: DefaultCheckTimeout}
}

// WithTimeout overrides the per-probe timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check probes every configured component concurrently. A failed ledger
// makes the report Unhealthy since no request can be served without it;
// any other failure only degrades it.
func (s *Service) Check(ctx context.Context) Report {
	probes := map[string]func(context.Context) error{"ledger": s.ledger.Ping}
	if s.db != nil {
		probes["database"] = s.db.Ping
	}
	if s.capability != nil {
		probes["capability"] = s.capability.HealthCheck
	}

	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(probes))
	var g errgroup.Group
	for name, probe := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			res := result(probe(pctx))
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Report{Status: aggregate(checks), Checks: checks, Breaker: s.ledger.BreakerState()}
}

func aggregate(checks map[string]CheckResult) Status {
	if checks["ledger"] == CheckError {
		return Unhealthy
	}
	for _, v := range checks {
		if v == CheckError {
			return Degraded
		}
	}
	return Healthy
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
