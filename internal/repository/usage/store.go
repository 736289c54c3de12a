package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/quotagate/internal/db"
	"github.com/kailas-cloud/quotagate/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "usage:"

// store is the consumer interface for usage counters (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Store keeps per-subscriber committed units in daily and monthly counters
// that expire on their own.
type Store struct {
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a usage counter store.
// dailyTTL is the TTL for daily keys (recommended: 48h).
// monthTTL is the TTL for monthly keys (recommended: 62 days).
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		store:    s,
		dailyTTL: dailyTTL,
		monthTTL: monthTTL,
	}
}

// Add increments the day and month counters covering at.
func (s *Store) Add(ctx context.Context, subscriberID string, at time.Time, units int64) error {
	if err := s.incr(ctx, DailyKey(subscriberID, at), units, s.dailyTTL); err != nil {
		return err
	}
	return s.incr(ctx, MonthlyKey(subscriberID, at), units, s.monthTTL)
}

// Daily returns units committed on the UTC day containing at.
func (s *Store) Daily(ctx context.Context, subscriberID string, at time.Time) (int64, error) {
	return s.get(ctx, DailyKey(subscriberID, at))
}

// Monthly returns units committed in the UTC month containing at.
func (s *Store) Monthly(ctx context.Context, subscriberID string, at time.Time) (int64, error) {
	return s.get(ctx, MonthlyKey(subscriberID, at))
}

// DailyKey is quotagate:usage:{subscriber}:daily:YYYY-MM-DD.
func DailyKey(subscriberID string, at time.Time) string {
	return keyPrefix + subscriberID + ":daily:" + at.UTC().Format("2006-01-02")
}

// MonthlyKey is quotagate:usage:{subscriber}:monthly:YYYY-MM.
func MonthlyKey(subscriberID string, at time.Time) string {
	return keyPrefix + subscriberID + ":monthly:" + at.UTC().Format("2006-01")
}

func (s *Store) incr(ctx context.Context, key string, val int64, ttl time.Duration) error {
	if _, err := s.store.IncrWithTTL(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("usage counter %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("usage GET %s: %w", key, err)
	}
	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("usage GET %s parse: %w", key, err)
	}
	return val, nil
}
