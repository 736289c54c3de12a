// Command quotactl is the operator CLI for a quotagate deployment:
// it provisions entitlements, prices payloads, verifies receipts and
// lists commit anomalies.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/quotagate/internal/version"
)

// options are the flags shared by every subcommand.
type options struct {
	ledgerDriver string
	ledgerDSN    string
	journalPath  string
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "quotactl",
		Short:         "Operate a quotagate ledger",
		Long:          `Provision entitlements, price payloads, verify receipts and inspect commit anomalies.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ledgerDriver, "ledger-driver", envOr("QUOTAGATE_LEDGER_DRIVER", "sqlite"),
		"ledger backend: sqlite or postgres")
	pf.StringVar(&opts.ledgerDSN, "ledger-dsn", os.Getenv("QUOTAGATE_LEDGER_DSN"),
		"ledger file path (sqlite) or connection string (postgres)")
	pf.StringVar(&opts.journalPath, "journal", os.Getenv("QUOTAGATE_ANOMALY_PATH"),
		"commit anomaly journal (sqlite file)")

	root.AddCommand(
		newGrantCmd(opts),
		newShowCmd(opts),
		newPriceCmd(),
		newVerifyCmd(),
		newAnomaliesCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "quotactl", version.String())
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
