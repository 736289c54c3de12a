package entitlement

import (
	"context"

	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// Reader reads authoritative entitlements from the ledger.
type Reader interface {
	ReadEntitlement(ctx context.Context, subscriberID string) (ent.Entitlement, error)
}
