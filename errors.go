package quotagate

import (
	"errors"

	"github.com/kailas-cloud/quotagate/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound          = domain.ErrNotFound
	ErrRateLimited       = domain.ErrRateLimited
	ErrNoAccess          = domain.ErrNoAccess
	ErrQuotaExhausted    = domain.ErrQuotaExhausted
	ErrInvalidRequest    = domain.ErrInvalidRequest
	ErrLedgerUnavailable = domain.ErrLedgerUnavailable
	ErrInsufficientQuota = domain.ErrInsufficientQuota
	ErrExecutionFailed   = domain.ErrExecutionFailed
	ErrCommitFailed      = domain.ErrCommitFailed
)

// ErrGrantUnsupported is returned by Client.Grant when the ledger cannot
// provision entitlements.
var ErrGrantUnsupported = errors.New("quotagate: ledger does not support grants")
