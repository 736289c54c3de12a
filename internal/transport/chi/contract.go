package chi

import (
	"context"

	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/domain/outcome"
	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	domusage "github.com/kailas-cloud/quotagate/internal/domain/usage"
	healthuc "github.com/kailas-cloud/quotagate/internal/usecase/health"
)

// Submitter runs requests through access control.
type Submitter interface {
	Submit(ctx context.Context, req request.Request) outcome.Outcome
}

// EntitlementReader reads entitlements through the cache.
type EntitlementReader interface {
	Get(ctx context.Context, subscriberID string, forceRefresh bool) (ent.Entitlement, error)
}

// ReceiptReader looks up stored receipts.
type ReceiptReader interface {
	Get(ctx context.Context, correlationID string) (receipt.Receipt, error)
}

// ReceiptVerifier checks receipts against claimed inputs.
type ReceiptVerifier interface {
	Verify(r receipt.Receipt, claimedResponse string) bool
	VerifyRequest(r receipt.Receipt, payload string) bool
}

// UsageReporter builds usage reports.
type UsageReporter interface {
	GetReport(ctx context.Context, subscriberID string, period domusage.Period) (domusage.Report, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
