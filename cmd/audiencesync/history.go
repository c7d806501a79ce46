package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"audiencesync/internal/config"
)

func newHistoryCmd(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the ledger rows of one run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return history(cmd.Context(), cmd.OutOrStdout(), a.cfg, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id printed by run")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func history(ctx context.Context, w io.Writer, p config.Pipeline, runID string) error {
	if p.Storage.Kind == "" {
		return fmt.Errorf("history: storage.kind is not configured")
	}
	ledger, err := openLedger(ctx, p)
	if err != nil {
		return err
	}
	defer ledger.Close()

	recs, err := ledger.ListBatches(ctx, runID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(w, "no batches recorded for run %s\n", runID)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFINAL\tRECORDS\tSTATUS\tATTEMPTS\tSTARTED\tTOOK\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%t\t%d\t%s\t%d\t%s\t%s\t%s\n",
			r.Seq, r.Final, r.Records, r.Status, r.Attempts,
			r.StartedAt.UTC().Format(time.RFC3339), r.Duration, r.Error)
	}
	return tw.Flush()
}
