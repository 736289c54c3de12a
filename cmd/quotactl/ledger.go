package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/ledger"
	"github.com/kailas-cloud/quotagate/internal/ledger/backend"
)

// openLedger opens the persistent ledger named by the shared flags.
// The memory driver is refused: grants would vanish on exit.
func openLedger(ctx context.Context, opts *options) (backend.Provisioner, func(), error) {
	if opts.ledgerDriver == backend.Memory {
		return nil, nil, errors.New("the memory ledger does not persist; use --ledger-driver sqlite or postgres")
	}
	if opts.ledgerDSN == "" {
		return nil, nil, errors.New("--ledger-dsn (or QUOTAGATE_LEDGER_DSN) is required")
	}
	return backend.Open(ctx, opts.ledgerDriver, opts.ledgerDSN)
}

func newGrantCmd(opts *options) *cobra.Command {
	var (
		tierID   string
		quota    int64
		validFor time.Duration
		source   string
	)

	cmd := &cobra.Command{
		Use:   "grant <subscriber-id>",
		Short: "Grant or replace a subscriber's entitlement",
		Example: `  # 1000 basic units for 30 days
  quotactl grant 0xabc --tier basic --quota 1000 --ledger-dsn ./data/ledger.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if quota < 0 {
				return fmt.Errorf("--quota must not be negative, got %d", quota)
			}
			if validFor <= 0 {
				return fmt.Errorf("--valid-for must be positive, got %s", validFor)
			}

			l, closeFn, err := openLedger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			expiresAt := time.Now().Add(validFor).UTC()
			err = l.Grant(cmd.Context(), ledger.Grant{
				SubscriberID:   args[0],
				TierID:         tierID,
				ExpiresAt:      expiresAt,
				Quota:          quota,
				SourceRecordID: source,
			})
			if err != nil {
				return fmt.Errorf("grant %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "granted %s: tier=%s quota=%d expires=%s\n",
				args[0], tierID, quota, expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&tierID, "tier", "basic", "tier id")
	cmd.Flags().Int64Var(&quota, "quota", 0, "quota units to grant")
	cmd.Flags().DurationVar(&validFor, "valid-for", 30*24*time.Hour, "entitlement lifetime")
	cmd.Flags().StringVar(&source, "source", "quotactl", "source record id stored with the grant")
	_ = cmd.MarkFlagRequired("quota")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <subscriber-id>",
		Short: "Show a subscriber's entitlement as the ledger reports it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeFn, err := openLedger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			e, err := l.ReadEntitlement(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no entitlement for %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subscriber: %s\n", e.SubscriberID())
			fmt.Fprintf(out, "tier:       %s\n", e.TierID())
			fmt.Fprintf(out, "remaining:  %d\n", e.RemainingQuota())
			fmt.Fprintf(out, "expires:    %s\n", e.ExpiresAt().UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "active:     %t\n", e.Usable(time.Now()))
			if e.SourceRecordID() != "" {
				fmt.Fprintf(out, "source:     %s\n", e.SourceRecordID())
			}
			return nil
		},
	}
}
