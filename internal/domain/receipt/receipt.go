package receipt

import "time"

// Receipt is the verifiable record of one completed request.
// It is an immutable value; verification recomputes it from its inputs.
type Receipt struct {
	CorrelationID  string    `json:"correlation_id"`
	SubscriberID   string    `json:"subscriber_id"`
	PayloadDigest  string    `json:"payload_digest"`
	ResponseDigest string    `json:"response_digest"`
	Cost           int64     `json:"cost"`
	IssuedAt       time.Time `json:"issued_at"`
	Attestation    string    `json:"attestation"`
}
