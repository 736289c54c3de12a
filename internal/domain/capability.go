package domain

import "context"

// Capability is the paid service gated by quotagate.
type Capability interface {
	Execute(ctx context.Context, payload, tierID string) (string, error)
}
