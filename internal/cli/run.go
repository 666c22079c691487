package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"SkyAgents-Hub/internal/app"
	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/orchestrator"
	"SkyAgents-Hub/internal/workflow"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		agentName string
		prompt    string
		assetID   string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an agent's workflow and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := app.New(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			agent, err := findAgent(ctx, a, agentName)
			if err != nil {
				return err
			}

			a.Start(ctx)
			if err := a.WaitConnected(ctx); err != nil {
				return err
			}

			req := orchestrator.Request{Agent: agent, Prompt: prompt}
			if strings.TrimSpace(assetID) != "" {
				req.Account = &workflow.AccountRef{AssetID: assetID}
			}
			attempt, err := a.Orchestrator.Execute(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "attempt %s submitted for %s\n", attempt.ID(), agent.Name)

			result, err := attempt.Wait(ctx)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), agent.Name, result)
			if result.Status == workflow.StatusError {
				return errors.New(result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name as listed by the catalog")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt to execute")
	cmd.Flags().StringVar(&assetID, "asset-id", "", "account asset id (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum time to wait for the result")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func findAgent(ctx context.Context, a *app.App, name string) (workflow.Agent, error) {
	agents, err := a.Catalog.ListAgents(ctx)
	if err != nil {
		return workflow.Agent{}, err
	}
	for _, agent := range agents {
		if agent.Name == name {
			return agent, nil
		}
	}
	return workflow.Agent{}, xerrors.New(xerrors.CodeNotFound, "agent not found in catalog: "+name)
}
