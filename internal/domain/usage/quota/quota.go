package quota

// Quota is the subscriber's entitlement state as shown in a usage report.
type Quota struct {
	tierID    string
	remaining int64
	active    bool
	expiresAt int64 // unix millis, converted to RFC 3339 at transport layer
}

// New creates a Quota snapshot.
func New(tierID string, remaining int64, active bool, expiresAt int64) Quota {
	return Quota{
		tierID:    tierID,
		remaining: remaining,
		active:    active,
		expiresAt: expiresAt,
	}
}

// TierID returns the purchased tier, empty when the subscriber has none.
func (q Quota) TierID() string { return q.tierID }

// Remaining returns quota units left.
func (q Quota) Remaining() int64 { return q.remaining }

// Active reports whether the entitlement is present and unexpired.
func (q Quota) Active() bool { return q.active }

// ExpiresAt returns the expiry timestamp (unix millis).
func (q Quota) ExpiresAt() int64 { return q.expiresAt }
