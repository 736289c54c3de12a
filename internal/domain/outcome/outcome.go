package outcome

import (
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
)

// State is a position in the access state machine.
type State string

// Access states. Completed and Rejected are terminal.
const (
	StateReceived           State = "received"
	StateRateChecked        State = "rate_checked"
	StateEntitlementChecked State = "entitlement_checked"
	StatePriced             State = "priced"
	StateExecuted           State = "executed"
	StateCommitted          State = "committed"
	StateCompleted          State = "completed"
	StateRejected           State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// Reason explains a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonNone              Reason = ""
	ReasonRateLimited       Reason = "rate_limited"
	ReasonLedgerUnavailable Reason = "ledger_unavailable"
	ReasonNoAccess          Reason = "no_access"
	ReasonQuotaExhausted    Reason = "quota_exhausted"
	ReasonInvalidRequest    Reason = "invalid_request"
	ReasonExecutionFailed   Reason = "execution_failed"
	ReasonCommitFailed      Reason = "commit_failed"
)

var reasonErrors = map[Reason]error{
	ReasonRateLimited:       domain.ErrRateLimited,
	ReasonLedgerUnavailable: domain.ErrLedgerUnavailable,
	ReasonNoAccess:          domain.ErrNoAccess,
	ReasonQuotaExhausted:    domain.ErrQuotaExhausted,
	ReasonInvalidRequest:    domain.ErrInvalidRequest,
	ReasonExecutionFailed:   domain.ErrExecutionFailed,
	ReasonCommitFailed:      domain.ErrCommitFailed,
}

// Sentinel returns the domain error for the reason, nil for ReasonNone.
func (r Reason) Sentinel() error {
	return reasonErrors[r]
}

// RateLimit describes the caller's current rate window.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Outcome is the terminal result of one Submit call.
type Outcome struct {
	State          State
	Reason         Reason
	CorrelationID  string
	SubscriberID   string
	TierID         string
	Cost           int64
	Content        string
	Receipt        *receipt.Receipt
	RemainingQuota int64
	RateLimit      RateLimit
	Detail         string

	cause error
}

// Completed builds a successful outcome.
func Completed(o Outcome) Outcome {
	o.State = StateCompleted
	o.Reason = ReasonNone
	o.cause = nil
	return o
}

// Rejected builds a rejected outcome. cause may be nil; when set it is
// kept in the error chain returned by Err.
func Rejected(o Outcome, reason Reason, cause error) Outcome {
	o.State = StateRejected
	o.Reason = reason
	o.cause = cause
	return o
}

// Err returns nil for completed outcomes. For rejections it returns an
// error matching the reason's sentinel and, when present, the underlying cause.
func (o Outcome) Err() error {
	if o.State != StateRejected {
		return nil
	}
	return &Error{Reason: o.Reason, Cause: o.cause}
}

// Delivered reports whether the caller received content.
// True for completed requests and for commit failures.
func (o Outcome) Delivered() bool {
	return o.State == StateCompleted || o.Reason == ReasonCommitFailed
}

// Error is the error form of a rejected outcome.
type Error struct {
	Reason Reason
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Reason) + ": " + e.Cause.Error()
	}
	return string(e.Reason)
}

// Unwrap exposes both the reason sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Reason.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
