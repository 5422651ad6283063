package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	Long: `Starts an MCP server on stdin/stdout so agents can import, publish, run and
inspect workflows. Tool calls act for the configured user unless they pass
user_id. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			srv := mcp.NewServer(mcp.ServerDeps{
				Store:        a.store,
				Orchestrator: a.orch,
				Validator:    a.validator,
				Publisher:    a.publisher,
				Scheduler:    a.sched,
				Ledger:       a.ledger,
				DefaultUser:  a.cfg.UserID,
				Logger:       a.logger,
			})
			a.logger.Info("mcp server listening on stdio", "user_id", a.cfg.UserID)
			return srv.Serve(ctx)
		})
	},
}
