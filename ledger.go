package quotagate

import (
	"context"
	"fmt"
	"time"

	ent "github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/ledger"
)

// ledgerAdapter wraps a public Ledger to satisfy ledger.Backend.
type ledgerAdapter struct {
	inner Ledger
}

func (a *ledgerAdapter) ReadEntitlement(ctx context.Context, subscriberID string) (ent.Entitlement, error) {
	e, err := a.inner.ReadEntitlement(ctx, subscriberID)
	if err != nil {
		return ent.Entitlement{}, err
	}
	out, err := ent.New(e.SubscriberID, e.TierID, e.ExpiresAt, e.RemainingQuota, e.SourceRecordID)
	if err != nil {
		return ent.Entitlement{}, fmt.Errorf("ledger returned entitlement for %s: %w", subscriberID, err)
	}
	return out, nil
}

func (a *ledgerAdapter) CommitUsage(
	ctx context.Context, subscriberID string, cost int64, correlationID string,
) (ledger.CommitReceipt, error) {
	rc, err := a.inner.CommitUsage(ctx, subscriberID, cost, correlationID)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	return ledger.CommitReceipt{
		CorrelationID:  rc.CorrelationID,
		SubscriberID:   rc.SubscriberID,
		Cost:           rc.Cost,
		RemainingQuota: rc.RemainingQuota,
		CommittedAt:    rc.CommittedAt,
		Replayed:       rc.Replayed,
	}, nil
}

func (a *ledgerAdapter) Ping(ctx context.Context) error {
	return a.inner.Ping(ctx)
}

func (a *ledgerAdapter) Grant(ctx context.Context, g ledger.Grant) error {
	gr, ok := a.inner.(Granter)
	if !ok {
		return ErrGrantUnsupported
	}
	return gr.Grant(ctx, Grant(g))
}

func toEntitlement(e ent.Entitlement, now time.Time) Entitlement {
	return Entitlement{
		SubscriberID:   e.SubscriberID(),
		TierID:         e.TierID(),
		ExpiresAt:      e.ExpiresAt(),
		RemainingQuota: e.RemainingQuota(),
		SourceRecordID: e.SourceRecordID(),
		Active:         e.Usable(now),
	}
}
