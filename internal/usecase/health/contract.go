package health

import "context"

// Pinger checks a dependency's availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerChecker checks the ledger and reports its circuit breaker state.
type LedgerChecker interface {
	Ping(ctx context.Context) error
	BreakerState() string
}

// CapabilityChecker checks capability provider availability.
type CapabilityChecker interface {
	HealthCheck(ctx context.Context) error
}
