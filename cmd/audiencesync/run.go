package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audiencesync/internal/action"
	"audiencesync/internal/config"
	"audiencesync/internal/datasource"
	"audiencesync/internal/logging"
)

type runFlags struct {
	audience  string
	mode      string
	noHash    bool
	input     string
	batchSize int
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upload one export to a custom audience",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}
	cmd.Flags().StringVar(&f.audience, "audience", "", "audience id (overrides upload.audience_id)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "create_audience, update_audience or replace_audience")
	cmd.Flags().BoolVar(&f.noHash, "no-hash", false, "send identifiers unhashed (export is already hashed)")
	cmd.Flags().StringVar(&f.input, "input", "", `export file; "-" reads stdin (overrides source)`)
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "records per request (overrides upload.batch_size)")
	return cmd
}

// apply copies the command-line overrides onto p.
func (f runFlags) apply(p *config.Pipeline) {
	if f.audience != "" {
		p.Upload.AudienceID = f.audience
	}
	if f.mode != "" {
		p.Upload.Mode = f.mode
	}
	if f.noHash {
		p.Match.Hash = false
	}
	if f.batchSize > 0 {
		p.Upload.BatchSize = f.batchSize
	}
	switch f.input {
	case "":
	case "-":
		p.Source = config.Source{Kind: datasource.KindStdin, Options: config.Options{}}
	default:
		p.Source = config.Source{Kind: datasource.KindFile, Options: config.Options{"path": f.input}}
	}
	if p.Job == "" {
		p.Job = "audiencesync"
	}
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, f runFlags) error {
	p := a.cfg
	f.apply(&p)

	if printIssues(stderr, config.ValidatePipeline(p)) {
		return fmt.Errorf("configuration is invalid")
	}

	flush := setupMetrics(p)
	defer flush()

	ledger, err := openLedger(ctx, p)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	src, err := newSourceFn(sourceConfig(p.Source))
	if err != nil {
		return err
	}

	log := logging.FromContext(ctx)
	log.Info("run: starting",
		zap.String("job", p.Job),
		zap.String("mode", p.Upload.Mode),
		zap.String("source", p.Source.Kind),
		zap.Int("batch_size", p.Upload.BatchSize),
	)

	exec := action.New(newGraphClient(p), p, ledger)
	resp, err := exec.Execute(ctx, action.Request{Params: action.ParamsFromConfig(p), Source: src})
	printSummary(stdout, resp)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("run: interrupted")
		}
		return err
	}
	return nil
}

func printSummary(w io.Writer, resp action.Response) {
	fmt.Fprintf(w, "state:        %s\n", resp.State)
	if resp.AudienceID != "" {
		fmt.Fprintf(w, "audience:     %s\n", resp.AudienceID)
	}
	res := resp.Result
	if res == nil {
		return
	}
	fmt.Fprintf(w, "run id:       %s\n", res.RunID)
	fmt.Fprintf(w, "session id:   %d\n", res.SessionID)
	if res.EmptySchema {
		fmt.Fprintf(w, "schema:       (empty: no column maps to an identifier)\n")
	} else {
		fmt.Fprintf(w, "schema:       %s\n", strings.Join(res.Tags, ", "))
	}
	fmt.Fprintf(w, "rows:         %d\n", res.Rows)
	fmt.Fprintf(w, "records:      %d (duplicates skipped: %d)\n", res.Records, res.Duplicates)
	fmt.Fprintf(w, "batches:      %d (failed: %d)\n", res.Batches.Dispatched, res.Batches.Failed)
	fmt.Fprintf(w, "api received: %d (invalid: %d)\n", res.NumReceived, res.NumInvalid)
	for i, e := range res.Errors {
		fmt.Fprintf(w, "  #%03d: %v\n", i+1, e)
	}
}
