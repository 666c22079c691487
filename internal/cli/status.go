package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/status"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/sdk/go/skyagents"
)

// serverFlag 为需要访问运行中服务的命令注册 --server。
func serverFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVar(server, "server", "", "address of the running service (default server.address from config)")
}

func (o *options) client(server string) (*skyagents.Client, error) {
	if server == "" {
		server = o.cfg.Server.Address
	}
	return skyagents.NewClient(server, nil)
}

func newStatusCmd(opts *options) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status [agent]",
		Short: "Show the execution status map of the running service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(server)
			if err != nil {
				return err
			}
			var entries []status.Entry
			if len(args) == 1 {
				entry, err := client.Execution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				entries = append(entries, entry)
			} else if entries, err = client.Executions(cmd.Context()); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executions yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AGENT\tSTATUS\tMESSAGE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Agent, paint(e.Status), e.Message, e.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	serverFlag(cmd, &server)
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		server string
		agent  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished execution attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(server)
			if err != nil {
				return err
			}
			records, err := client.History(cmd.Context(), agent, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No finished executions.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINISHED\tAGENT\tSTATUS\tSTEPS\tDURATION\tMESSAGE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.FinishedAt.Local().Format(time.DateTime), r.Agent, paint(r.Status), r.Steps,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Message)
			}
			return tw.Flush()
		},
	}
	serverFlag(cmd, &server)
	cmd.Flags().StringVar(&agent, "agent", "", "only show attempts of this agent")
	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "maximum number of records")
	return cmd
}

func paint(s workflow.Status) string {
	switch s {
	case workflow.StatusCompleted:
		return color.GreenString(string(s))
	case workflow.StatusError:
		return color.RedString(string(s))
	case workflow.StatusRunning:
		return color.CyanString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func printResult(w io.Writer, agent string, result workflow.ExecutionResult) {
	fmt.Fprintf(w, "%s: %s (%s)\n", agent, paint(result.Status), result.Message)
	if len(result.Data) > 0 {
		fmt.Fprintln(w, string(result.Data))
	}
}
