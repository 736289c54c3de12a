package db

import (
	"context"
	"time"
)

// Store is the Redis/Valkey facade. Consumers depend on the narrow
// sub-interfaces.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore covers the key-value commands quotagate issues: write-once
// receipts and expiring usage counters.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	IncrWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}
