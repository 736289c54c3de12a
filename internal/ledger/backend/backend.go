// Package backend opens a ledger backend by driver name.
package backend

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/quotagate/internal/ledger"
	"github.com/kailas-cloud/quotagate/internal/ledger/memory"
	"github.com/kailas-cloud/quotagate/internal/ledger/postgres"
	"github.com/kailas-cloud/quotagate/internal/ledger/sqlite"
)

// Drivers.
const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Provisioner is a ledger backend that can also grant entitlements.
type Provisioner interface {
	ledger.Backend
	ledger.Granter
}

// Open opens the backend for driver. The returned func releases it.
// dsn is a file path for sqlite and a connection string for postgres.
func Open(ctx context.Context, driver, dsn string) (Provisioner, func(), error) {
	switch driver {
	case SQLite:
		l, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case Postgres:
		l, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case Memory, "":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}
