package domain

import "time"

// KeyPrefix namespaces every key quotagate writes to Redis/Valkey.
const KeyPrefix = "quotagate:"

// Defaults shared by the config layer and the embeddable library.
const (
	DefaultCacheTTL         = 60 * time.Second
	DefaultRateLimitMax     = 10
	DefaultRateLimitWindow  = time.Minute
	DefaultLedgerTimeout    = 2 * time.Second
	DefaultCommitTimeout    = 3 * time.Second
	DefaultExecutionTimeout = 30 * time.Second
	DefaultRetryBackoff     = 100 * time.Millisecond
)
