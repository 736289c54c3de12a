package chi

import (
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

// Error codes returned in ErrorResponse.
const (
	ErrorCodeBadRequest        ErrorCode = "bad_request"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodeRateLimited       ErrorCode = "rate_limited"
	ErrorCodeNoAccess          ErrorCode = "no_access"
	ErrorCodeQuotaExhausted    ErrorCode = "quota_exhausted"
	ErrorCodeInvalidRequest    ErrorCode = "invalid_request"
	ErrorCodeLedgerUnavailable ErrorCode = "ledger_unavailable"
	ErrorCodeExecutionFailed   ErrorCode = "execution_failed"
	ErrorCodeNotFound          ErrorCode = "not_found"
	ErrorCodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// QueryRequest is the body of POST /v1/queries.
type QueryRequest struct {
	Payload       string `json:"payload"`
	SubscriberID  string `json:"subscriber_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// QueryResponse is returned for requests that produced content.
type QueryResponse struct {
	CorrelationID  string           `json:"correlation_id"`
	State          string           `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	Message        string           `json:"message,omitempty"`
	Content        string           `json:"content"`
	Tier           string           `json:"tier"`
	Cost           int64            `json:"cost"`
	RemainingQuota int64            `json:"remaining_quota"`
	Receipt        *receipt.Receipt `json:"receipt,omitempty"`
}

// EntitlementResponse describes a subscriber's entitlement.
type EntitlementResponse struct {
	SubscriberID   string    `json:"subscriber_id"`
	Tier           string    `json:"tier"`
	RemainingQuota int64     `json:"remaining_quota"`
	ExpiresAt      time.Time `json:"expires_at"`
	Active         bool      `json:"active"`
	SourceRecordID string    `json:"source_record_id,omitempty"`
}

// VerifyRequest is the body of POST /v1/receipts/verify.
type VerifyRequest struct {
	Receipt  receipt.Receipt `json:"receipt"`
	Response string          `json:"response"`
	Payload  *string         `json:"payload,omitempty"`
}

// VerifyResponse reports the verification result.
type VerifyResponse struct {
	Valid         bool  `json:"valid"`
	ResponseMatch bool  `json:"response_match"`
	PayloadMatch  *bool `json:"payload_match,omitempty"`
}

// UsageResponse is the body of GET /v1/usage/{subscriber_id}.
type UsageResponse struct {
	SubscriberID  string       `json:"subscriber_id"`
	Period        string       `json:"period"`
	PeriodStartAt *time.Time   `json:"period_start_at,omitempty"`
	PeriodEndAt   *time.Time   `json:"period_end_at,omitempty"`
	Usage         UsageMetrics `json:"usage"`
	Quota         QuotaStatus  `json:"quota"`
}

// UsageMetrics counts a subscriber's requests in the period.
type UsageMetrics struct {
	Completed   int   `json:"completed"`
	Denied      int   `json:"denied"`
	Uncommitted int   `json:"uncommitted"`
	Units       int64 `json:"units"`
}

// QuotaStatus is the subscriber's current entitlement.
type QuotaStatus struct {
	Tier      string     `json:"tier,omitempty"`
	Remaining int64      `json:"remaining"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Breaker string            `json:"ledger_breaker"`
}
