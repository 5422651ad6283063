package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/streaming"
	"github.com/rendis/pagepilot/pkg/schema"
)

var (
	runFollow          bool
	executionsWorkflow string
	executionsLimit    int
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a workflow now and print its phases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			stop := func() {}
			if runFollow {
				if stop, err = followProgress(ctx, a.events, args[0]); err != nil {
					return err
				}
			}
			exec, err := a.orch.Run(ctx, engine.RunRequest{
				WorkflowID: args[0],
				UserID:     owner,
				Trigger:    schema.TriggerManual,
			})
			stop()
			if err != nil {
				return err
			}
			report, err := a.orch.Status(context.WithoutCancel(ctx), exec.ID, owner)
			if err != nil {
				return err
			}
			if err := printReport(report); err != nil {
				return err
			}
			if exec.Status == schema.ExecutionFailed {
				return fmt.Errorf("execution %s failed: %s", exec.ID, exec.FailureReason)
			}
			return nil
		})
	},
}

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect workflow executions",
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show an execution with its phases and logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			report, err := a.orch.Status(ctx, args[0], owner)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			execs, err := a.store.ListExecutions(ctx, store.ExecutionFilter{
				OwnerID:    owner,
				WorkflowID: executionsWorkflow,
				Limit:      executionsLimit,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(execs)
			}
			if len(execs) == 0 {
				fmt.Println("No executions")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKFLOW\tTRIGGER\tSTATUS\tCREDITS\tSTARTED\tREASON")
			for _, e := range execs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.WorkflowID, e.Trigger, e.Status, e.CreditsConsumed,
					formatTime(e.StartedAt), orDash(e.FailureReason))
			}
			return tw.Flush()
		})
	},
}

// followProgress prints progress events of workflowID to stderr until the
// returned stop function is called.
func followProgress(ctx context.Context, hub streaming.EventHub, workflowID string) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fmt.Fprintln(os.Stderr, formatEvent(ev))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func formatEvent(ev streaming.StreamEvent) string {
	switch ev.EventType {
	case streaming.EventExecutionStarted:
		return fmt.Sprintf("> execution %s started (%v phases)", ev.ExecutionID, ev.Payload["phases"])
	case streaming.EventPhaseStarted:
		return fmt.Sprintf("  %d. %v running", ev.Phase, ev.Payload["task"])
	case streaming.EventPhaseFinished:
		line := fmt.Sprintf("  %d. %v %v (%v credits)", ev.Phase, ev.Payload["task"], ev.Payload["status"], ev.Payload["credits"])
		if f, _ := ev.Payload["failure"].(string); f != "" {
			line += " " + f
		}
		return line
	case streaming.EventExecutionFinished:
		return fmt.Sprintf("> execution %s %v", ev.ExecutionID, ev.Payload["status"])
	default:
		return ev.EventType
	}
}

func init() {
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "print phase progress while the workflow runs")
	executionsListCmd.Flags().StringVar(&executionsWorkflow, "workflow", "", "only executions of this workflow")
	executionsListCmd.Flags().IntVar(&executionsLimit, "limit", 20, "maximum number of executions")
	executionsCmd.AddCommand(executionsShowCmd, executionsListCmd)
}

func printReport(r *engine.ExecutionReport) error {
	if outputJSON {
		return printJSON(r)
	}
	e := r.Execution
	fmt.Printf("Execution: %s\n", e.ID)
	fmt.Printf("Workflow:  %s\n", e.WorkflowID)
	fmt.Printf("Trigger:   %s\n", e.Trigger)
	fmt.Printf("Status:    %s\n", e.Status)
	fmt.Printf("Credits:   %d\n", e.CreditsConsumed)
	fmt.Printf("Started:   %s\n", formatTime(e.StartedAt))
	fmt.Printf("Completed: %s\n", formatTime(e.CompletedAt))
	if e.FailureReason != "" {
		fmt.Printf("Reason:    %s\n", e.FailureReason)
	}

	fmt.Println("\nPhases:")
	for _, p := range r.Phases {
		label := p.Phase.Label
		if label == "" {
			label = string(p.Phase.Kind)
		}
		fmt.Printf("  %d. %s  %s  (%d credits)\n", p.Phase.Sequence, label, p.Phase.Status, p.Phase.CreditsConsumed)
		for _, l := range p.Logs {
			fmt.Printf("       [%s] %s\n", l.Level, l.Message)
		}
	}
	return nil
}
