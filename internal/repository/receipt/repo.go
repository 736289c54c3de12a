package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/quotagate/internal/db"
	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
)

var keyPrefix = domain.KeyPrefix + "receipt:"

// store is the consumer interface for receipt persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Repo stores receipts in Redis/Valkey keyed by correlation id.
// Receipts are immutable: the first write wins.
type Repo struct {
	store     store
	retention time.Duration
}

// New creates a receipt repository. retention bounds how long receipts
// stay retrievable.
func New(s store, retention time.Duration) *Repo {
	return &Repo{store: s, retention: retention}
}

// Save persists r unless a receipt with the same correlation id exists.
func (r *Repo) Save(ctx context.Context, rc receipt.Receipt) error {
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal receipt %s: %w", rc.CorrelationID, err)
	}
	if _, err := r.store.SetNX(ctx, keyPrefix+rc.CorrelationID, data, r.retention); err != nil {
		return fmt.Errorf("receipt SET %s: %w", rc.CorrelationID, err)
	}
	return nil
}

// Get returns the receipt for correlationID or domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, correlationID string) (receipt.Receipt, error) {
	data, err := r.store.Get(ctx, keyPrefix+correlationID)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return receipt.Receipt{}, fmt.Errorf("receipt %s: %w", correlationID, domain.ErrNotFound)
		}
		return receipt.Receipt{}, fmt.Errorf("receipt GET %s: %w", correlationID, err)
	}
	var rc receipt.Receipt
	if err := json.Unmarshal(data, &rc); err != nil {
		return receipt.Receipt{}, fmt.Errorf("receipt GET %s decode: %w", correlationID, err)
	}
	return rc, nil
}

// Memory is an in-process receipt store for deployments without Redis.
type Memory struct {
	mu        sync.Mutex
	receipts  map[string]memEntry
	retention time.Duration
	now       func() time.Time
}

type memEntry struct {
	rc        receipt.Receipt
	expiresAt time.Time
}

// NewMemory creates an in-memory receipt store. retention <= 0 keeps receipts forever.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		receipts:  make(map[string]memEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Save stores rc unless one with the same correlation id is present.
func (m *Memory) Save(_ context.Context, rc receipt.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.receipts[rc.CorrelationID]; ok && !m.expired(e, now) {
		return nil
	}
	e := memEntry{rc: rc}
	if m.retention > 0 {
		e.expiresAt = now.Add(m.retention)
	}
	m.receipts[rc.CorrelationID] = e
	return nil
}

// Get returns the receipt for correlationID or domain.ErrNotFound.
func (m *Memory) Get(_ context.Context, correlationID string) (receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.receipts[correlationID]
	if !ok || m.expired(e, m.now()) {
		delete(m.receipts, correlationID)
		return receipt.Receipt{}, fmt.Errorf("receipt %s: %w", correlationID, domain.ErrNotFound)
	}
	return e.rc, nil
}

func (m *Memory) expired(e memEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
