package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
)

func newResetCmd(c *cli) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "reset [ORDER_ID...]",
		Short: "Move orders back to fetched so the next run re-evaluates them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.reset(cmd.Context(), args, status)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "reset every order in this terminal status")
	return cmd
}

func (c *cli) reset(ctx context.Context, ids []string, status string) error {
	if (len(ids) == 0) == (status == "") {
		return errors.New("pass order ids or --status, not both")
	}
	var want ledger.Status
	if status != "" {
		s, err := ledger.ParseStatus(status)
		if err != nil {
			return err
		}
		if !s.Terminal() {
			return fmt.Errorf("status %q is not terminal", status)
		}
		want = s
	}

	store, log, done, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer done()

	if want != "" {
		records, err := store.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		for _, r := range ledger.Filter(records, want) {
			ids = append(ids, r.OrderID)
		}
	}

	n, err := ledger.Reset(ctx, store, ids)
	if err != nil {
		return err
	}
	log.Info().Int("reset", n).Int("requested", len(ids)).Msg("ledger records reset")
	fmt.Fprintf(c.out, "reset %d of %d order(s)\n", n, len(ids))
	return nil
}
