package entitlement

import (
	"errors"
	"time"
)

// ErrNegativeQuota is returned by New for a negative remaining quota.
var ErrNegativeQuota = errors.New("entitlement: remaining quota must not be negative")

// Entitlement is one subscriber's right to consume the service.
// Values are snapshots of the ledger; only the ledger debits quota.
type Entitlement struct {
	subscriberID   string
	tierID         string
	expiresAt      time.Time
	remainingQuota int64
	sourceRecordID string
}

// New creates an Entitlement snapshot.
func New(subscriberID, tierID string, expiresAt time.Time, remaining int64, sourceRecordID string) (Entitlement, error) {
	if remaining < 0 {
		return Entitlement{}, ErrNegativeQuota
	}
	return Entitlement{
		subscriberID:   subscriberID,
		tierID:         tierID,
		expiresAt:      expiresAt.UTC(),
		remainingQuota: remaining,
		sourceRecordID: sourceRecordID,
	}, nil
}

// SubscriberID returns the opaque subscriber identity (e.g. a wallet address).
func (e Entitlement) SubscriberID() string { return e.subscriberID }

// TierID returns the purchased tier.
func (e Entitlement) TierID() string { return e.tierID }

// ExpiresAt returns the expiry instant (UTC).
func (e Entitlement) ExpiresAt() time.Time { return e.expiresAt }

// RemainingQuota returns the quota units left.
func (e Entitlement) RemainingQuota() int64 { return e.remainingQuota }

// SourceRecordID references the ledger record this snapshot was read from.
func (e Entitlement) SourceRecordID() string { return e.sourceRecordID }

// Usable reports whether the entitlement has not expired at now.
// Expired entitlements are never usable regardless of quota.
func (e Entitlement) Usable(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// Covers reports whether the entitlement is usable and holds at least cost units.
func (e Entitlement) Covers(now time.Time, cost int64) bool {
	return e.Usable(now) && e.remainingQuota >= cost
}
