package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SkyAgents-Hub/internal/cli"
)

// main 是 skyagents 命令行与本地服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "skyagents: %v\n", err)
		stop()
		os.Exit(1)
	}
}
