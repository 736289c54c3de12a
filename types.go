package quotagate

import (
	"context"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/event"
	"github.com/kailas-cloud/quotagate/internal/domain/outcome"
	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
)

// Outcome is the terminal result of Submit.
type Outcome = outcome.Outcome

// State is a position in the access state machine.
type State = outcome.State

// Reason explains a rejection.
type Reason = outcome.Reason

// Terminal states.
const (
	StateCompleted = outcome.StateCompleted
	StateRejected  = outcome.StateRejected
)

// Rejection reasons.
const (
	ReasonRateLimited       = outcome.ReasonRateLimited
	ReasonLedgerUnavailable = outcome.ReasonLedgerUnavailable
	ReasonNoAccess          = outcome.ReasonNoAccess
	ReasonQuotaExhausted    = outcome.ReasonQuotaExhausted
	ReasonInvalidRequest    = outcome.ReasonInvalidRequest
	ReasonExecutionFailed   = outcome.ReasonExecutionFailed
	ReasonCommitFailed      = outcome.ReasonCommitFailed
)

// Receipt is the verifiable record of a completed request.
type Receipt = receipt.Receipt

// Event is an analytics record, one per terminal transition.
type Event = event.Event

// EventType classifies an Event.
type EventType = event.Type

// Event types.
const (
	EventDenied = event.TypeDenied
	EventCommit = event.TypeCommit
	EventUsage  = event.TypeUsage
)

// Capability is the paid service being gated. tierID lets it scale
// the work to the subscriber's tier.
type Capability = domain.Capability

// Request is a single call against the capability.
type Request struct {
	SubscriberID string
	Payload      string
	// CorrelationID identifies the request end to end. Generated when empty.
	// Resubmitting a correlation id never debits twice.
	CorrelationID string
}

// Tier controls pricing and payload limits.
type Tier struct {
	// PricingMultiplier discounts the raw cost; must be in (0, 1].
	PricingMultiplier float64
	MaxPayloadLength  int
}

// Entitlement is a subscriber's right to use the capability.
type Entitlement struct {
	SubscriberID   string
	TierID         string
	ExpiresAt      time.Time
	RemainingQuota int64
	SourceRecordID string
	// Active is set on entitlements returned by Client.Entitlement.
	Active bool
}

// Grant creates or replaces a subscriber's entitlement.
type Grant struct {
	SubscriberID   string
	TierID         string
	ExpiresAt      time.Time
	Quota          int64
	SourceRecordID string
}

// CommitReceipt is the ledger's acknowledgement of a debit.
type CommitReceipt struct {
	CorrelationID  string
	SubscriberID   string
	Cost           int64
	RemainingQuota int64
	CommittedAt    time.Time
	// Replayed is true when the correlation id was already committed.
	Replayed bool
}

// Ledger is an authoritative quota ledger.
//
// ReadEntitlement returns ErrNotFound for unknown subscribers.
// CommitUsage must be idempotent per correlation id and return
// ErrInsufficientQuota when the debit would overdraw. Transport
// failures should wrap ErrLedgerUnavailable.
type Ledger interface {
	ReadEntitlement(ctx context.Context, subscriberID string) (Entitlement, error)
	CommitUsage(ctx context.Context, subscriberID string, cost int64, correlationID string) (CommitReceipt, error)
	Ping(ctx context.Context) error
}

// Granter is implemented by ledgers that can provision entitlements.
type Granter interface {
	Grant(ctx context.Context, g Grant) error
}
