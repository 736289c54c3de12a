package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/quotagate/internal/domain"
)

func TestErr_CompletedIsNil(t *testing.T) {
	o := Completed(Outcome{CorrelationID: "c1"})
	if o.Err() != nil {
		t.Fatalf("expected nil error, got %v", o.Err())
	}
	if !o.Delivered() {
		t.Error("completed outcome must be delivered")
	}
}

func TestErr_MatchesSentinel(t *testing.T) {
	tests := []struct {
		reason Reason
		want   error
	}{
		{ReasonRateLimited, domain.ErrRateLimited},
		{ReasonLedgerUnavailable, domain.ErrLedgerUnavailable},
		{ReasonNoAccess, domain.ErrNoAccess},
		{ReasonQuotaExhausted, domain.ErrQuotaExhausted},
		{ReasonInvalidRequest, domain.ErrInvalidRequest},
		{ReasonExecutionFailed, domain.ErrExecutionFailed},
		{ReasonCommitFailed, domain.ErrCommitFailed},
	}
	for _, tc := range tests {
		t.Run(string(tc.reason), func(t *testing.T) {
			o := Rejected(Outcome{}, tc.reason, nil)
			if !errors.Is(o.Err(), tc.want) {
				t.Errorf("errors.Is(%v, %v) = false", o.Err(), tc.want)
			}
		})
	}
}

func TestErr_KeepsCause(t *testing.T) {
	cause := fmt.Errorf("ledger commit: %w", domain.ErrInsufficientQuota)
	o := Rejected(Outcome{}, ReasonCommitFailed, cause)

	err := o.Err()
	if !errors.Is(err, domain.ErrCommitFailed) {
		t.Error("expected ErrCommitFailed in chain")
	}
	if !errors.Is(err, domain.ErrInsufficientQuota) {
		t.Error("expected ErrInsufficientQuota in chain")
	}
	if !o.Delivered() {
		t.Error("commit failure still delivers content")
	}
}

func TestTerminal(t *testing.T) {
	if StatePriced.Terminal() {
		t.Error("priced is not terminal")
	}
	if !StateRejected.Terminal() || !StateCompleted.Terminal() {
		t.Error("completed and rejected are terminal")
	}
}
