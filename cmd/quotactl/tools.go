package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/quotagate/internal/domain/receipt"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
	anomalyrepo "github.com/kailas-cloud/quotagate/internal/repository/anomaly"
	"github.com/kailas-cloud/quotagate/internal/usecase/pricing"
	receiptuc "github.com/kailas-cloud/quotagate/internal/usecase/receipt"
)

// errReceiptMismatch makes verify exit non-zero without extra output.
var errReceiptMismatch = errors.New("receipt does not match")

func newPriceCmd() *cobra.Command {
	var tierID string

	cmd := &cobra.Command{
		Use:     "price <payload>...",
		Short:   "Price a payload with the built-in tiers",
		Example: `  quotactl price --tier premium "forecast gas fees for next week"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := tier.DefaultCatalog().Lookup(tierID)
			if !ok {
				return fmt.Errorf("unknown tier %q", tierID)
			}
			p, err := pricing.New(pricing.DefaultConfig()).Price(request.Request{
				SubscriberID: "quotactl",
				Payload:      strings.Join(args, " "),
			}, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tier=%s cost=%d\n", p.TierID, p.Cost)
			return nil
		},
	}

	cmd.Flags().StringVar(&tierID, "tier", "basic", "tier id")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		receiptPath string
		response    string
		payload     string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a receipt against the response (and optionally the payload)",
		Example: `  # receipt.json is the "receipt" object from a query response
  quotactl verify --receipt receipt.json --response "$(cat answer.txt)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := readReceipt(cmd.InOrStdin(), receiptPath)
			if err != nil {
				return err
			}

			claims, err := receiptuc.Decode(rc.Attestation)
			if err != nil {
				return fmt.Errorf("decode attestation: %w", err)
			}

			gen := receiptuc.New()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "correlation_id: %s\n", claims.CorrelationID)
			fmt.Fprintf(out, "subscriber_id:  %s\n", claims.SubscriberID)
			fmt.Fprintf(out, "cost:           %d\n", claims.Cost)
			fmt.Fprintf(out, "issued_at:      %s\n", claims.IssuedAt.Format(time.RFC3339))

			valid := gen.Verify(rc, response)
			fmt.Fprintf(out, "response:       %s\n", matchLabel(valid))
			if cmd.Flags().Changed("payload") {
				ok := gen.VerifyRequest(rc, payload)
				fmt.Fprintf(out, "payload:        %s\n", matchLabel(ok))
				valid = valid && ok
			}

			if !valid {
				return errReceiptMismatch
			}
			fmt.Fprintln(out, "valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&receiptPath, "receipt", "-", "receipt JSON file, - for stdin")
	cmd.Flags().StringVar(&response, "response", "", "response text the receipt should cover")
	cmd.Flags().StringVar(&payload, "payload", "", "payload text the receipt should cover")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func newAnomaliesCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List responses delivered without a ledger commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.journalPath == "" {
				return errors.New("--journal (or QUOTAGATE_ANOMALY_PATH) is required")
			}
			if _, err := os.Stat(opts.journalPath); err != nil {
				return fmt.Errorf("journal %s: %w", opts.journalPath, err)
			}

			j, err := anomalyrepo.Open(cmd.Context(), opts.journalPath)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			list, err := j.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no anomalies")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OCCURRED\tCORRELATION\tSUBSCRIBER\tTIER\tCOST\tCAUSE")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					a.OccurredAt.Format(time.RFC3339), a.CorrelationID, a.SubscriberID, a.TierID, a.Cost, a.Cause)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum anomalies to list, newest first")
	return cmd
}

func readReceipt(stdin io.Reader, path string) (receipt.Receipt, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return receipt.Receipt{}, fmt.Errorf("open receipt: %w", err)
		}
		defer f.Close()
		r = f
	}

	var rc receipt.Receipt
	if err := json.NewDecoder(r).Decode(&rc); err != nil {
		return receipt.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if rc.Attestation == "" {
		return receipt.Receipt{}, errors.New("receipt has no attestation")
	}
	return rc, nil
}

func matchLabel(ok bool) string {
	if ok {
		return "match"
	}
	return "MISMATCH"
}
