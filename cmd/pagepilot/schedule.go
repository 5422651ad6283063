package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage workflow cron schedules",
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <workflow-id> <cron-expression>",
	Short: "Run a workflow on a cron schedule (UTC)",
	Example: `  pagepilot schedule set <workflow-id> "0 0 * * *"
  pagepilot schedule set <workflow-id> @hourly`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			next, err := a.sched.Schedule(ctx, args[0], owner, args[1], time.Now())
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"workflow_id": args[0], "cron": args[1], "next_run_at": next})
			}
			fmt.Printf("Next run at %s\n", next.Format(time.RFC3339))
			return nil
		})
	},
}

var scheduleClearCmd = &cobra.Command{
	Use:   "clear <workflow-id>",
	Short: "Remove the schedule of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			if err := a.sched.Unschedule(ctx, args[0], owner); err != nil {
				return err
			}
			fmt.Printf("Schedule of %s cleared\n", args[0])
			return nil
		})
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleSetCmd, scheduleClearCmd)
}
