package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"audiencesync/internal/graph"
)

// lister is the discovery part of *graph.Client.
type lister interface {
	Businesses(ctx context.Context) ([]graph.Named, error)
	AdAccounts(ctx context.Context, businessID string) ([]graph.Named, error)
	CustomAudiences(ctx context.Context, adAccountID string) ([]graph.Named, error)
}

func newAudiencesCmd(a *app) *cobra.Command {
	var business, adAccount string
	cmd := &cobra.Command{
		Use:   "audiences",
		Short: "List businesses, ad accounts or custom audiences",
		Long: `Without flags, lists the businesses of the token owner.
With --business, lists that business's ad accounts.
With --ad-account, lists the custom audiences of the ad account.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listAudiences(cmd.Context(), cmd.OutOrStdout(), newGraphClient(a.cfg), business, adAccount)
		},
	}
	cmd.Flags().StringVar(&business, "business", "", "business id")
	cmd.Flags().StringVar(&adAccount, "ad-account", "", "ad account id, with or without act_")
	return cmd
}

func listAudiences(ctx context.Context, w io.Writer, api lister, business, adAccount string) error {
	var (
		items []graph.Named
		err   error
	)
	switch {
	case adAccount != "":
		items, err = api.CustomAudiences(ctx, adAccount)
	case business != "":
		items, err = api.AdAccounts(ctx, business)
	default:
		items, err = api.Businesses(ctx)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\n", it.ID, it.Name)
	}
	return tw.Flush()
}
