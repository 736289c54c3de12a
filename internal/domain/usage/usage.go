package usage

import (
	"github.com/kailas-cloud/quotagate/internal/domain/usage/metrics"
	"github.com/kailas-cloud/quotagate/internal/domain/usage/quota"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodTotal Period = "total"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodMonth, PeriodTotal:
		return true
	}
	return false
}

// Report is a subscriber's usage report for a time period.
type Report struct {
	period       Period
	periodStart  int64
	periodEnd    int64
	subscriberID string
	metrics      metrics.Metrics
	quota        quota.Quota
}

// NewReport creates a usage report.
func NewReport(period Period, start, end int64, subscriberID string, m metrics.Metrics, q quota.Quota) Report {
	return Report{
		period:       period,
		periodStart:  start,
		periodEnd:    end,
		subscriberID: subscriberID,
		metrics:      m,
		quota:        q,
	}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// PeriodStart returns the period start timestamp (unix millis).
func (r *Report) PeriodStart() int64 { return r.periodStart }

// PeriodEnd returns the period end timestamp (unix millis).
func (r *Report) PeriodEnd() int64 { return r.periodEnd }

// SubscriberID returns the subscriber the report covers.
func (r *Report) SubscriberID() string { return r.subscriberID }

// Metrics returns the activity metrics.
func (r *Report) Metrics() metrics.Metrics { return r.metrics }

// Quota returns the entitlement state.
func (r *Report) Quota() quota.Quota { return r.quota }
