package ledger

import (
	"context"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/entitlement"
)

// Backend is the authoritative quota ledger.
//
// CommitUsage must be idempotent per correlation id: repeating a commit
// returns the original receipt with Replayed set and debits nothing.
// Implementations return domain.ErrNotFound, domain.ErrInsufficientQuota,
// domain.ErrInvalidRequest (see Replay) or domain.ErrLedgerUnavailable.
type Backend interface {
	ReadEntitlement(ctx context.Context, subscriberID string) (entitlement.Entitlement, error)
	CommitUsage(ctx context.Context, subscriberID string, cost int64, correlationID string) (CommitReceipt, error)
	Ping(ctx context.Context) error
}

// Granter provisions entitlements. Used by seeding and the operator CLI.
type Granter interface {
	Grant(ctx context.Context, g Grant) error
}

// CommitReceipt is the ledger's acknowledgement of a debit.
type CommitReceipt struct {
	CorrelationID  string
	SubscriberID   string
	Cost           int64
	RemainingQuota int64
	CommittedAt    time.Time
	Replayed       bool
}

// Replay turns an earlier commit into the answer for a repeated one. A
// correlation id already committed for another subscriber is rejected
// rather than leaking that subscriber's receipt.
func Replay(prev CommitReceipt, subscriberID string) (CommitReceipt, error) {
	if prev.SubscriberID != subscriberID {
		return CommitReceipt{}, domain.NewInvalidRequest(
			"correlation id %q was committed for another subscriber", prev.CorrelationID)
	}
	prev.Replayed = true
	return prev, nil
}

// Grant creates or replaces a subscriber's entitlement.
type Grant struct {
	SubscriberID   string
	TierID         string
	ExpiresAt      time.Time
	Quota          int64
	SourceRecordID string
}
