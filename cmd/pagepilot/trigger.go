package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/internal/trigger"
)

var triggerOnce bool

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run scheduled workflows as they come due",
	Long: `Polls for published workflows whose next scheduled run has passed, runs
them and stores their next activation. Runs until interrupted; with --once a
single poll is made and the command returns when its runs finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			loop := trigger.New(a.store, a.orch, trigger.Config{
				PollInterval: a.cfg.PollInterval,
				Concurrency:  a.cfg.Concurrency,
				Logger:       a.logger,
			})

			if triggerOnce {
				n := loop.Tick(ctx)
				loop.Wait()
				m := loop.Metrics()
				fmt.Printf("Started %d runs (%d completed, %d failed)\n", n, m.Completed, m.Failed)
				return nil
			}

			if err := loop.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("trigger loop started", "poll_interval", a.cfg.PollInterval, "concurrency", a.cfg.Concurrency)
			<-ctx.Done()
			a.logger.Info("shutting down trigger loop")
			return loop.Close()
		})
	},
}

func init() {
	triggerCmd.Flags().BoolVar(&triggerOnce, "once", false, "poll once and exit")
}
