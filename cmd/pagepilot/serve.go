package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/internal/panel"
	"github.com/rendis/pagepilot/internal/trigger"
)

var (
	serveAddr      string
	serveNoTrigger bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP management API and run scheduled workflows",
	Long: `Serves the JSON management API and live execution progress as Server-Sent
Events. Requests act for the user in the X-User-ID header, or the configured
user when it is absent. Unless --no-trigger is set, the trigger loop runs in
the same process so scheduled runs stream their progress too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			addr := a.cfg.ListenAddr
			if serveAddr != "" {
				addr = serveAddr
			}

			if !serveNoTrigger {
				loop := trigger.New(a.store, a.orch, trigger.Config{
					PollInterval: a.cfg.PollInterval,
					Concurrency:  a.cfg.Concurrency,
					Logger:       a.logger,
				})
				if err := loop.Start(ctx); err != nil {
					return err
				}
				defer func() {
					if err := loop.Close(); err != nil {
						a.logger.Warn("stop trigger loop", "error", err)
					}
				}()
			}

			srv := panel.NewPanelServer(panel.PanelDeps{
				Store:        a.store,
				Orchestrator: a.orch,
				Publisher:    a.publisher,
				Scheduler:    a.sched,
				Ledger:       a.ledger,
				Hub:          a.events,
				DefaultUser:  a.cfg.UserID,
				Logger:       a.logger,
			})
			return srv.ListenAndServe(ctx, addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().BoolVar(&serveNoTrigger, "no-trigger", false, "do not run scheduled workflows")
}
