package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource (entitlement, receipt).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrNoAccess signals an absent or expired entitlement.
	ErrNoAccess = errors.New("no access")
	// ErrQuotaExhausted signals that the entitlement cannot cover the request.
	ErrQuotaExhausted = errors.New("quota exhausted")
	// ErrInvalidRequest signals a payload rejected by validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrLedgerUnavailable signals a ledger transport failure, timeout or open breaker.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrInsufficientQuota signals a ledger-side rejection of a debit (lost race).
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrExecutionFailed signals that the capability failed; no quota was consumed.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrCommitFailed signals that a produced response could not be debited.
	ErrCommitFailed = errors.New("commit failed")
)

// InvalidRequestError carries the validation detail for ErrInvalidRequest.
type InvalidRequestError struct {
	Detail string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidRequest.Error(), e.Detail)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// NewInvalidRequest creates a validation error with a client-safe detail.
func NewInvalidRequest(format string, args ...any) error {
	return &InvalidRequestError{Detail: fmt.Sprintf(format, args...)}
}
