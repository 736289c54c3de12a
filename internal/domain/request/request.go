package request

import "time"

// Request is a single call against a paid capability.
type Request struct {
	SubscriberID  string
	Payload       string
	SubmittedAt   time.Time
	CorrelationID string
}

// Priced is a Request with its deterministic quota cost.
type Priced struct {
	Request
	TierID string
	Cost   int64
}
