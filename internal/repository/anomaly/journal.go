package anomaly

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	domain "github.com/kailas-cloud/quotagate/internal/domain/anomaly"
)

const schema = `
CREATE TABLE IF NOT EXISTS commit_anomalies (
	id              TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	subscriber_id   TEXT NOT NULL,
	tier_id         TEXT NOT NULL,
	cost            INTEGER NOT NULL,
	response_digest TEXT NOT NULL,
	cause           TEXT NOT NULL,
	occurred_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commit_anomalies_occurred ON commit_anomalies (occurred_at);
`

// Journal durably records commit anomalies in SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. ":memory:" gives an
// ephemeral journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open anomaly journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate anomaly journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an anomaly. ID and OccurredAt are filled when empty.
func (j *Journal) Record(ctx context.Context, a domain.Anomaly) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO commit_anomalies
			(id, correlation_id, subscriber_id, tier_id, cost, response_digest, cause, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.CorrelationID, a.SubscriberID, a.TierID, a.Cost, a.ResponseDigest, a.Cause, a.OccurredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record anomaly %s: %w", a.CorrelationID, err)
	}
	return nil
}

// List returns the most recent anomalies, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, correlation_id, subscriber_id, tier_id, cost, response_digest, cause, occurred_at
		FROM commit_anomalies
		ORDER BY occurred_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Anomaly, 0)
	for rows.Next() {
		var (
			a  domain.Anomaly
			at int64
		)
		if err := rows.Scan(&a.ID, &a.CorrelationID, &a.SubscriberID, &a.TierID, &a.Cost,
			&a.ResponseDigest, &a.Cause, &at); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.OccurredAt = time.UnixMilli(at).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return out, nil
}
