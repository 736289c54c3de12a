package event

import "time"

// Type classifies an analytics event.
type Type string

// Event types. Each terminal access transition emits exactly one.
const (
	// TypeDenied is emitted for requests rejected before execution.
	TypeDenied Type = "denied"
	// TypeCommit is emitted for completed requests.
	TypeCommit Type = "commit"
	// TypeUsage is emitted for requests that executed but were not committed.
	TypeUsage Type = "usage"
)

// Event is one analytics record published on the event bus.
type Event struct {
	Type          Type      `json:"type"`
	SubscriberID  string    `json:"subscriber_id"`
	Cost          int64     `json:"cost"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Reason        string    `json:"reason,omitempty"`
}
