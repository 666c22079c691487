package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"SkyAgents-Hub/internal/app"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API service with a persistent realtime channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, opts.cfg)
			if err != nil {
				return err
			}
			serveErr := a.Serve(ctx)
			return errors.Join(serveErr, a.Close())
		},
	}
}
