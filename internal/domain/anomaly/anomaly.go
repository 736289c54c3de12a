package anomaly

import "time"

// Anomaly records a response that was delivered without a successful
// ledger commit. Each one needs reconciliation against the ledger.
type Anomaly struct {
	ID             string    `json:"id"`
	CorrelationID  string    `json:"correlation_id"`
	SubscriberID   string    `json:"subscriber_id"`
	TierID         string    `json:"tier_id"`
	Cost           int64     `json:"cost"`
	ResponseDigest string    `json:"response_digest"`
	Cause          string    `json:"cause"`
	OccurredAt     time.Time `json:"occurred_at"`
}
