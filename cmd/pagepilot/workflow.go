package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

var (
	workflowName        string
	workflowDescription string
	workflowStatus      string
	workflowLimit       int
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflows",
}

var workflowImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a flow definition as a draft workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			if err := a.validator.ValidateJSON(data); err != nil {
				return err
			}
			var def schema.FlowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return schema.NewError(schema.ErrCodeValidation, "decode flow definition").WithCause(err)
			}

			name := workflowName
			if name == "" {
				name = args[0]
			}
			wf := &store.Workflow{
				ID:          uuid.NewString(),
				OwnerID:     owner,
				Name:        name,
				Description: workflowDescription,
				Definition:  def,
				Status:      schema.WorkflowDraft,
			}
			if err := a.store.CreateWorkflow(ctx, wf); err != nil {
				return err
			}

			// Import never fails on an unfinished graph; problems are reported for the editor.
			result := a.validator.Validate(&def)
			if outputJSON {
				return printJSON(map[string]any{"workflow": wf, "validation": result})
			}
			fmt.Printf("Imported workflow %s (%s)\n", wf.ID, wf.Name)
			for _, issue := range result.Errors {
				fmt.Printf("  error   %s: %s\n", issue.Path, issue.Message)
			}
			for _, issue := range result.Warnings {
				fmt.Printf("  warning %s: %s\n", issue.Path, issue.Message)
			}
			return nil
		})
	},
}

var workflowPublishCmd = &cobra.Command{
	Use:   "publish <workflow-id>",
	Short: "Validate a workflow and make it runnable on a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			wf, err := a.publisher.Publish(ctx, args[0], owner)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(wf)
			}
			fmt.Printf("Published %s: %d credits per run\n", wf.ID, wf.CreditsCost)
			return nil
		})
	},
}

var workflowUnpublishCmd = &cobra.Command{
	Use:   "unpublish <workflow-id>",
	Short: "Return a workflow to draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			if err := a.publisher.Unpublish(ctx, args[0], owner); err != nil {
				return err
			}
			fmt.Printf("Workflow %s is a draft again\n", args[0])
			return nil
		})
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			filter := store.WorkflowFilter{OwnerID: owner, Limit: workflowLimit}
			if workflowStatus != "" {
				status := schema.WorkflowStatus(workflowStatus)
				filter.Status = &status
			}
			wfs, err := a.store.ListWorkflows(ctx, filter)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(wfs)
			}
			if len(wfs) == 0 {
				fmt.Println("No workflows")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREDITS\tSCHEDULE\tNEXT RUN\tLAST RUN")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					wf.ID, wf.Name, wf.Status, wf.CreditsCost, orDash(wf.CronExpression),
					formatTime(wf.NextRunAt), orDash(string(wf.LastRunStatus)))
			}
			return tw.Flush()
		})
	},
}

var workflowCostCmd = &cobra.Command{
	Use:   "cost <workflow-id>",
	Short: "Show the credits one run of a workflow consumes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			owner, err := a.user()
			if err != nil {
				return err
			}
			wf, err := a.store.GetWorkflow(ctx, args[0], owner)
			if err != nil {
				return err
			}
			cost, err := credits.EstimateCost(wf.Definition, a.registry)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"workflow_id": wf.ID, "credits": cost})
			}
			fmt.Printf("%d credits per run\n", cost)
			return nil
		})
	},
}

func init() {
	workflowImportCmd.Flags().StringVar(&workflowName, "name", "", "workflow name (default: file name)")
	workflowImportCmd.Flags().StringVar(&workflowDescription, "description", "", "workflow description")
	workflowListCmd.Flags().StringVar(&workflowStatus, "status", "", "filter by status: draft, published")
	workflowListCmd.Flags().IntVar(&workflowLimit, "limit", 50, "maximum number of workflows")

	workflowCmd.AddCommand(workflowImportCmd, workflowPublishCmd, workflowUnpublishCmd, workflowListCmd, workflowCostCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
