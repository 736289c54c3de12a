// Package postgres implements the quota ledger on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/entitlement"
	"github.com/kailas-cloud/quotagate/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	subscriber_id    TEXT PRIMARY KEY,
	tier_id          TEXT NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	remaining_quota  BIGINT NOT NULL CHECK (remaining_quota >= 0),
	source_record_id TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS usage_commits (
	correlation_id  TEXT PRIMARY KEY,
	subscriber_id   TEXT NOT NULL,
	cost            BIGINT NOT NULL CHECK (cost > 0),
	remaining_after BIGINT NOT NULL,
	committed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_commits_subscriber ON usage_commits (subscriber_id, committed_at);
`

// Ledger is a PostgreSQL-backed ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres ledger: %w", err)
	}
	l, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an existing pool and applies the schema.
func New(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate postgres ledger: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Close closes the pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// Ping checks the pool.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
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
		source = "postgres:" + g.SubscriberID
	}
	query := `
		INSERT INTO entitlements (subscriber_id, tier_id, expires_at, remaining_quota, source_record_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (subscriber_id) DO UPDATE SET
			tier_id = EXCLUDED.tier_id,
			expires_at = EXCLUDED.expires_at,
			remaining_quota = EXCLUDED.remaining_quota,
			source_record_id = EXCLUDED.source_record_id,
			updated_at = NOW()
	`
	if _, err := l.pool.Exec(ctx, query, g.SubscriberID, g.TierID, g.ExpiresAt.UTC(), g.Quota, source); err != nil {
		return fmt.Errorf("postgres grant %s: %w", g.SubscriberID, err)
	}
	return nil
}

// ReadEntitlement returns the stored entitlement.
func (l *Ledger) ReadEntitlement(ctx context.Context, subscriberID string) (entitlement.Entitlement, error) {
	query := `
		SELECT tier_id, expires_at, remaining_quota, source_record_id
		FROM entitlements
		WHERE subscriber_id = $1
	`
	var (
		tierID    string
		expiresAt time.Time
		remaining int64
		source    string
	)
	err := l.pool.QueryRow(ctx, query, subscriberID).Scan(&tierID, &expiresAt, &remaining, &source)
	if errors.Is(err, pgx.ErrNoRows) {
		return entitlement.Entitlement{}, fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	}
	if err != nil {
		return entitlement.Entitlement{}, unavailable("read", err)
	}
	return entitlement.New(subscriberID, tierID, expiresAt, remaining, source)
}

// CommitUsage debits cost in one transaction. The usage_commits primary key
// makes the debit idempotent per correlation id, including concurrent replays.
func (l *Ledger) CommitUsage(
	ctx context.Context, subscriberID string, cost int64, correlationID string,
) (ledger.CommitReceipt, error) {
	if cost < 1 {
		return ledger.CommitReceipt{}, domain.NewInvalidRequest("commit cost %d must be positive", cost)
	}
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if prev, found, err := lookupCommit(ctx, tx, correlationID); err != nil {
		return ledger.CommitReceipt{}, err
	} else if found {
		return ledger.Replay(prev, subscriberID)
	}

	var remaining int64
	err = tx.QueryRow(ctx, `
		UPDATE entitlements
		SET remaining_quota = remaining_quota - $1, updated_at = NOW()
		WHERE subscriber_id = $2 AND remaining_quota >= $1 AND expires_at > NOW()
		RETURNING remaining_quota
	`, cost, subscriberID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.CommitReceipt{}, rejectReason(ctx, tx, subscriberID, cost)
	}
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("debit", err)
	}

	var committedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO usage_commits (correlation_id, subscriber_id, cost, remaining_after, committed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (correlation_id) DO NOTHING
		RETURNING committed_at
	`, correlationID, subscriberID, cost, remaining).Scan(&committedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent replay won; drop our debit and return its receipt.
		_ = tx.Rollback(ctx)
		return l.replay(ctx, subscriberID, correlationID)
	}
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("record commit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.CommitReceipt{}, unavailable("commit", err)
	}
	return ledger.CommitReceipt{
		CorrelationID:  correlationID,
		SubscriberID:   subscriberID,
		Cost:           cost,
		RemainingQuota: remaining,
		CommittedAt:    committedAt.UTC(),
	}, nil
}

func (l *Ledger) replay(ctx context.Context, subscriberID, correlationID string) (ledger.CommitReceipt, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return ledger.CommitReceipt{}, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	prev, found, err := lookupCommit(ctx, tx, correlationID)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	if !found {
		return ledger.CommitReceipt{}, unavailable("replay", fmt.Errorf("commit %s vanished", correlationID))
	}
	return ledger.Replay(prev, subscriberID)
}

func rejectReason(ctx context.Context, tx pgx.Tx, subscriberID string, cost int64) error {
	var (
		remaining int64
		expired   bool
	)
	err := tx.QueryRow(ctx,
		`SELECT remaining_quota, expires_at <= NOW() FROM entitlements WHERE subscriber_id = $1`, subscriberID,
	).Scan(&remaining, &expired)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("entitlement %s: %w", subscriberID, domain.ErrNotFound)
	case err != nil:
		return unavailable("debit", err)
	case expired:
		return fmt.Errorf("entitlement %s expired: %w", subscriberID, domain.ErrNotFound)
	default:
		return fmt.Errorf("debit %d from %d: %w", cost, remaining, domain.ErrInsufficientQuota)
	}
}

func lookupCommit(ctx context.Context, tx pgx.Tx, correlationID string) (ledger.CommitReceipt, bool, error) {
	rc := ledger.CommitReceipt{CorrelationID: correlationID}
	err := tx.QueryRow(ctx, `
		SELECT subscriber_id, cost, remaining_after, committed_at
		FROM usage_commits
		WHERE correlation_id = $1
	`, correlationID).Scan(&rc.SubscriberID, &rc.Cost, &rc.RemainingQuota, &rc.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.CommitReceipt{}, false, nil
	}
	if err != nil {
		return ledger.CommitReceipt{}, false, unavailable("lookup commit", err)
	}
	rc.CommittedAt = rc.CommittedAt.UTC()
	return rc, true, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("postgres %s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}

var (
	_ ledger.Backend = (*Ledger)(nil)
	_ ledger.Granter = (*Ledger)(nil)
)
