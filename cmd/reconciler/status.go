package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
)

func newStatusCmd(c *cli) *cobra.Command {
	var failed, asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the progress ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.status(cmd.Context(), failed, asJSON)
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "list failed orders")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// openLedger loads ledger settings and opens the store. Logs go to errOut.
func (c *cli) openLedger(ctx context.Context) (ledger.Store, zerolog.Logger, func(), error) {
	l, err := config.LoadLedger(c.envFile)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, closer, err := logging.NewWithWriter(c.errOut, l.LogLevel, l.LogFile, app.ServiceName)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	store, err := app.OpenStore(ctx, l, c.opts.AWS, log)
	if err != nil {
		closer.Close()
		return nil, zerolog.Nop(), nil, err
	}
	return store, log, func() { closer.Close() }, nil
}

type statusReport struct {
	Ledger ledger.Summary  `json:"ledger"`
	Failed []ledger.Record `json:"failed,omitempty"`
}

func (c *cli) status(ctx context.Context, failed, asJSON bool) error {
	store, _, done, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer done()

	records, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	report := statusReport{Ledger: ledger.Summarize(records, nil)}
	if failed {
		report.Failed = ledger.Filter(records, ledger.StatusFailed)
	}

	if asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeStatus(c.out, report)
	return nil
}

func writeStatus(out io.Writer, r statusReport) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", r.Ledger.Total)
	fmt.Fprintf(tw, "%s\t%d\n", ledger.StatusFetched, r.Ledger.Fetched)
	fmt.Fprintf(tw, "%s\t%d\n", ledger.StatusNoActionNeeded, r.Ledger.NoActionNeeded)
	fmt.Fprintf(tw, "%s\t%d\n", ledger.StatusSuccess, r.Ledger.Success)
	fmt.Fprintf(tw, "%s\t%d\n", ledger.StatusFailed, r.Ledger.Failed)
	tw.Flush()

	if len(r.Failed) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tPAYMENT\tUPDATED\tERROR")
	for _, rec := range r.Failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.OrderID, rec.PaymentID, rec.UpdatedAt.Format(time.RFC3339), rec.ErrorDetail)
	}
	tw.Flush()
}
