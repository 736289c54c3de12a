package usage

import (
	"context"
	"time"

	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// EntitlementReader provides the subscriber's current entitlement.
type EntitlementReader interface {
	Get(ctx context.Context, subscriberID string, forceRefresh bool) (ent.Entitlement, error)
}

// UnitsSink persists committed units outside the process (write-behind).
type UnitsSink interface {
	Add(ctx context.Context, subscriberID string, at time.Time, units int64) error
}
