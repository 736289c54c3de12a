package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
	domusage "github.com/kailas-cloud/quotagate/internal/domain/usage"
	"github.com/kailas-cloud/quotagate/internal/domain/usage/quota"
)

// Service handles usage reporting.
type Service struct {
	agg  *Aggregator
	ents EntitlementReader
	now  func() time.Time
}

// New creates a Service.
func New(agg *Aggregator, ents EntitlementReader) *Service {
	return &Service{agg: agg, ents: ents, now: time.Now}
}

// WithClock replaces the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetReport builds a usage report for the given period. A subscriber
// without an entitlement gets an inactive quota, not an error.
func (s *Service) GetReport(ctx context.Context, subscriberID string, period domusage.Period) (domusage.Report, error) {
	if subscriberID == "" {
		return domusage.Report{}, domain.NewInvalidRequest("subscriber id is required")
	}
	if !period.Valid() {
		return domusage.Report{}, domain.NewInvalidRequest("unknown period %q", period)
	}

	now := s.now().UTC()
	var start, end time.Time

	switch period {
	case domusage.PeriodDay:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
	case domusage.PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		// total: no period boundaries
	}

	m := s.agg.Totals(subscriberID, start, end)

	var q quota.Quota
	e, err := s.ents.Get(ctx, subscriberID, false)
	switch {
	case err == nil:
		q = quota.New(e.TierID(), e.RemainingQuota(), e.Usable(now), e.ExpiresAt().UnixMilli())
	case errors.Is(err, domain.ErrNotFound):
		q = quota.New("", 0, false, 0)
	default:
		return domusage.Report{}, fmt.Errorf("usage report %s: %w", subscriberID, err)
	}

	return domusage.NewReport(period, millis(start), millis(end), subscriberID, m, q), nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
