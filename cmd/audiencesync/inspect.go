package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"audiencesync/internal/config"
	"audiencesync/internal/match"
	jsonparser "audiencesync/internal/parser/json"
	"audiencesync/internal/transformer"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pipeline config and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printIssues(cmd.ErrOrStderr(), config.ValidatePipeline(a.cfg)) {
				return fmt.Errorf("configuration is invalid: %s", a.cfgPath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", a.cfgPath)
			return nil
		},
	}
}

// errFirstRow stops the parser after the first row.
var errFirstRow = errors.New("first row read")

func newResolveCmd(a *app) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print how the first row's columns map to identifiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.cfg
			runFlags{input: input}.apply(&p)
			return resolve(cmd.Context(), cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", `export file; "-" reads stdin (overrides source)`)
	return cmd
}

func resolve(ctx context.Context, w io.Writer, p config.Pipeline) error {
	resolver, err := match.NewResolver(match.Config{ColumnMap: p.Match.ColumnMap})
	if err != nil {
		return err
	}
	src, err := newSourceFn(sourceConfig(p.Source))
	if err != nil {
		return err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	var schema *match.Schema
	_, err = jsonparser.StreamRows(ctx, rc, func(row *transformer.Row) error {
		schema = resolver.Resolve(row.Columns)
		return errFirstRow
	})
	if err != nil && !errors.Is(err, errFirstRow) {
		return err
	}
	if schema == nil {
		fmt.Fprintln(w, "export has no rows")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tIDENTIFIER\tHASHED")
	for _, m := range schema.Mappings {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", m.Column, m.Identifier, m.RequiresHashing && p.Match.Hash)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if schema.Empty() {
		fmt.Fprintln(w, "no column maps to a user identifier")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "applicable combinations:")
	for i, c := range schema.Applicable {
		fmt.Fprintf(w, "  %s (hashed: %t)\n", c.Tag, schema.Hashed[i] && p.Match.Hash)
	}
	return nil
}
