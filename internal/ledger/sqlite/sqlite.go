// Package sqlite implements the quota ledger on SQLite (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	subscriber_id    TEXT PRIMARY KEY,
	tier_id          TEXT NOT NULL,
	expires_at       INTEGER NOT NULL,
	remaining_quota  INTEGER NOT NULL CHECK (remaining_quota >= 0),
	source_record_id TEXT NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_commits (
	correlation_id  TEXT PRIMARY KEY,
	subscriber_id   TEXT NOT NULL,
	cost            INTEGER NOT NULL CHECK (cost > 0),
	remaining_after INTEGER NOT NULL,
	committed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_commits_subscriber ON usage_commits (subscriber_id, committed_at);
`

// Ledger is a SQLite-backed ledger. Timestamps are stored as unix millis.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral ledger.
func Open(ctx context.Context, path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB) (*Ledger, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// WithClock replaces the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Ping checks the database connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Grant upserts an entitlement.
func (l *Ledger) Grant(ctx context.Context, g ledger.Grant) error {
	if g.SubscriberID == "" {
		return domain.NewInvalidRequest("grant without subscriber id")
	}
	if g.Quota < 0 {
		return domain.NewInvalidRequest("grant quota must not be negative")
	}
	source := g.SourceRecordID
	if source == "" {
		source = "sqlite:" + g.SubscriberID
	}
	query := `
		INSERT INTO entitlements (subscriber_id, tier_id, expires_at, remaining_quota, source_record_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id) DO UPDATE SET
			tier_id = excluded.tier_id,
			expires_at = excluded.expires_at,
			remaining_quota = excluded.remaining_quota,
			source_record_id = excluded.source_record_id,
			updated_at = excluded.updated_at
	`
	_, err := l.db.ExecContext(ctx, query,
		g.SubscriberID, g.TierID, g.ExpiresAt.UnixMilli(), g.Quota, source, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite grant %s: %w", g.SubscriberID, err)
	}
	return nil
}

// ReadEntitlement returns the stored entitlement.
func (l *Ledger) ReadEntitlement(ctx context.Context, subscriberID string) (entitlement.Entitlement, error) {
	query := `
		SELECT tier_id, expires_at, remaining_quota, source_record_id
		FROM entitlements
		WHERE subscriber_id = ?
	`
	var (
		tierID    string
		expiresAt int64
		remaining int64
		source    string
	)
	err := l.db.QueryRowContext(ctx, query, subscriberID).Scan(&tierID, &expiresAt, &remaining, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Entitlement{}, fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	}
	if err != nil {
		return entitlement.Entitlement{}, unavailable("read", err)
	}
	return entitlement.New(subscriberID, tierID, time.UnixMilli(expiresAt), remaining, source)
}

// CommitUsage debits cost in a single transaction. A correlation id seen
// before returns the stored receipt without debiting.
func (l *Ledger) CommitUsage(
	ctx context.Context, subscriberID string, cost int64, correlationID string,
) (ledger.CommitReceipt, error) {
	if cost < 1 {
		return ledger.CommitReceipt{}, domain.NewInvalidRequest("commit cost %d must be positive", cost)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, found, err := lookupCommit(ctx, tx, correlationID)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	if found {
		return ledger.Replay(prev, subscriberID)
	}

	now := l.now()
	res, err := tx.ExecContext(ctx, `
		UPDATE entitlements
		SET remaining_quota = remaining_quota - ?, updated_at = ?
		WHERE subscriber_id = ? AND remaining_quota >= ? AND expires_at > ?
	`, cost, now.UnixMilli(), subscriberID, cost, now.UnixMilli())
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("debit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("debit", err)
	}
	if n == 0 {
		return ledger.CommitReceipt{}, l.rejectReason(ctx, tx, subscriberID, cost, now)
	}

	var remaining int64
	err = tx.QueryRowContext(ctx,
		`SELECT remaining_quota FROM entitlements WHERE subscriber_id = ?`, subscriberID,
	).Scan(&remaining)
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("debit", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_commits (correlation_id, subscriber_id, cost, remaining_after, committed_at)
		VALUES (?, ?, ?, ?, ?)
	`, correlationID, subscriberID, cost, remaining, now.UnixMilli())
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("record commit", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.CommitReceipt{}, unavailable("commit", err)
	}
	return ledger.CommitReceipt{
		CorrelationID:  correlationID,
		SubscriberID:   subscriberID,
		Cost:           cost,
		RemainingQuota: remaining,
		CommittedAt:    time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// UsageSince sums committed cost for a subscriber from the given instant.
func (l *Ledger) UsageSince(ctx context.Context, subscriberID string, since time.Time) (count int, units int64, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cost), 0)
		FROM usage_commits
		WHERE subscriber_id = ? AND committed_at >= ?
	`, subscriberID, since.UnixMilli()).Scan(&count, &units)
	if err != nil {
		return 0, 0, unavailable("usage", err)
	}
	return count, units, nil
}

func (l *Ledger) rejectReason(ctx context.Context, tx *sql.Tx, subscriberID string, cost int64, now time.Time) error {
	var (
		remaining int64
		expiresAt int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT remaining_quota, expires_at FROM entitlements WHERE subscriber_id = ?`, subscriberID,
	).Scan(&remaining, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	case err != nil:
		return unavailable("debit", err)
	case expiresAt <= now.UnixMilli():
		return fmt.Errorf("entitlement %s expired: %w", subscriberID, domain.ErrNotFound)
	default:
		return fmt.Errorf("debit %d from %d: %w", cost, remaining, domain.ErrInsufficientQuota)
	}
}

func lookupCommit(ctx context.Context, tx *sql.Tx, correlationID string) (ledger.CommitReceipt, bool, error) {
	var (
		rc          ledger.CommitReceipt
		committedAt int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT subscriber_id, cost, remaining_after, committed_at
		FROM usage_commits
		WHERE correlation_id = ?
	`, correlationID).Scan(&rc.SubscriberID, &rc.Cost, &rc.RemainingQuota, &committedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CommitReceipt{}, false, nil
	}
	if err != nil {
		return ledger.CommitReceipt{}, false, unavailable("lookup commit", err)
	}
	rc.CorrelationID = correlationID
	rc.CommittedAt = time.UnixMilli(committedAt).UTC()
	return rc, true, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}

var (
	_ ledger.Backend = (*Ledger)(nil)
	_ ledger.Granter = (*Ledger)(nil)
)
