package usage

import (
	"testing"

	"github.com/kailas-cloud/quotagate/internal/domain/usage/metrics"
	"github.com/kailas-cloud/quotagate/internal/domain/usage/quota"
)

func TestNewReport(t *testing.T) {
	m := metrics.New(15, 2, 0, 31)
	q := quota.New("basic", 69, true, 1767225600000)

	r := NewReport(PeriodMonth, 1700000000, 1702600000, "0xabc", m, q)

	if r.Period() != PeriodMonth {
		t.Errorf("Period() = %q", r.Period())
	}
	if r.PeriodStart() != 1700000000 {
		t.Errorf("PeriodStart() = %d", r.PeriodStart())
	}
	if r.PeriodEnd() != 1702600000 {
		t.Errorf("PeriodEnd() = %d", r.PeriodEnd())
	}
	if r.SubscriberID() != "0xabc" {
		t.Errorf("SubscriberID() = %q", r.SubscriberID())
	}
	if r.Metrics().Units() != 31 {
		t.Errorf("Metrics().Units() = %d", r.Metrics().Units())
	}
	if r.Quota().Remaining() != 69 {
		t.Errorf("Quota().Remaining() = %d", r.Quota().Remaining())
	}
}

func TestPeriodValid(t *testing.T) {
	for _, p := range []Period{PeriodDay, PeriodMonth, PeriodTotal} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Period("week").Valid() {
		t.Error("week should not be valid")
	}
}
