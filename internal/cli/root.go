// Package cli implements the skyagents command line. Commands that need the
// state of a running service (session, status map, history) talk to its
// HTTP API; agents and run work directly against the remote services.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"SkyAgents-Hub/internal/config"
	"SkyAgents-Hub/pkg/logger"
)

// options 是所有子命令共享的全局参数与已加载的配置。
type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "skyagents",
		Short: "Browse SkyAgents and execute their workflows",
		Long: "skyagents lists the agents published by the catalog, signs execution " +
			"requests with your wallet and submits them over the realtime channel.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if level := strings.TrimSpace(opts.logLevel); level != "" {
				cfg.Log.Level = level
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file, JSON or YAML (default $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAgentsCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))

	return cmd
}

// Execute 运行根命令。
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
