package cli

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"SkyAgents-Hub/internal/catalog"
	"SkyAgents-Hub/internal/workflow"
)

func newAgentsCmd(opts *options) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agents published by the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := catalog.NewClient(opts.cfg.Catalog.BaseURL,
				catalog.WithHTTPClient(&http.Client{Timeout: opts.cfg.Catalog.Timeout.Duration}))
			if err != nil {
				return err
			}
			agents, err := client.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			agents = workflow.FilterAgents(agents, search)
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tDESCRIPTION")
			for _, agent := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", agent.Name, agent.Identifier, agent.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive name filter")
	return cmd
}
