package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/kailas-cloud/quotagate/internal/domain/anomaly"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndList(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, domain.Anomaly{
		CorrelationID: "c1", SubscriberID: "0xabc", TierID: "basic", Cost: 2,
		Cause: "insufficient quota", OccurredAt: base,
	}))
	require.NoError(t, j.Record(ctx, domain.Anomaly{
		CorrelationID: "c2", SubscriberID: "0xdef", TierID: "premium", Cost: 1,
		Cause: "ledger unavailable", OccurredAt: base.Add(time.Minute),
	}))

	list, err := j.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].CorrelationID)
	assert.Equal(t, "c1", list[1].CorrelationID)
	assert.NotEmpty(t, list[0].ID)
	assert.True(t, list[1].OccurredAt.Equal(base))
}

func TestJournal_ListLimit(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, j.Record(ctx, domain.Anomaly{
			CorrelationID: "c", SubscriberID: "0xabc", Cost: int64(i + 1),
		}))
	}

	list, err := j.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
