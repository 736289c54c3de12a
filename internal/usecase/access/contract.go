package access

import (
	"context"

	"github.com/kailas-cloud/quotagate/internal/domain/anomaly"
	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/domain/event"
	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
	"github.com/kailas-cloud/quotagate/internal/ledger"
	"github.com/kailas-cloud/quotagate/internal/usecase/ratelimit"
)

// Limiter admits or denies a subscriber's request.
type Limiter interface {
	Check(subscriberID string) ratelimit.Decision
}

// EntitlementCache serves entitlements within the staleness window.
type EntitlementCache interface {
	Get(ctx context.Context, subscriberID string, forceRefresh bool) (ent.Entitlement, error)
	Invalidate(subscriberID string)
}

// Pricer validates a request and computes its cost.
type Pricer interface {
	Price(req request.Request, t tier.Tier) (request.Priced, error)
}

// Committer debits quota on the ledger.
type Committer interface {
	CommitUsage(ctx context.Context, subscriberID string, cost int64, correlationID string) (ledger.CommitReceipt, error)
}

// ReceiptIssuer issues verifiable receipts.
type ReceiptIssuer interface {
	Issue(p request.Priced, response string) receipt.Receipt
}

// ReceiptStore persists issued receipts.
type ReceiptStore interface {
	Save(ctx context.Context, r receipt.Receipt) error
}

// AnomalyRecorder journals responses delivered without a commit.
type AnomalyRecorder interface {
	Record(ctx context.Context, a anomaly.Anomaly) error
}

// Publisher emits analytics events. Must not block.
type Publisher interface {
	Publish(e event.Event)
}
