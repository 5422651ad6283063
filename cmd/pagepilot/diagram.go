package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/internal/diagram"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

var (
	diagramFormat string
	diagramOutput string
)

var workflowDiagramCmd = &cobra.Command{
	Use:   "diagram <workflow-id>",
	Short: "Draw a workflow's task graph in phase order",
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
			return drawDiagram(ctx, wf.Name, &wf.Definition, nil)
		})
	},
}

var executionsDiagramCmd = &cobra.Command{
	Use:   "diagram <execution-id>",
	Short: "Draw an execution's graph with the status of each phase",
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
			phases := make([]*store.Phase, len(report.Phases))
			for i, p := range report.Phases {
				phases[i] = p.Phase
			}
			title := fmt.Sprintf("execution %s (%s)", report.Execution.ID, report.Execution.Status)
			return drawDiagram(ctx, title, &report.Execution.Definition, phases)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{workflowDiagramCmd, executionsDiagramCmd} {
		c.Flags().StringVarP(&diagramFormat, "format", "f", "ascii", "ascii, mermaid, png, svg or dot")
		c.Flags().StringVarP(&diagramOutput, "output", "o", "", "write to file instead of stdout")
	}
	workflowCmd.AddCommand(workflowDiagramCmd)
	executionsCmd.AddCommand(executionsDiagramCmd)
}

func drawDiagram(ctx context.Context, title string, def *schema.FlowDefinition, phases []*store.Phase) error {
	model, err := diagram.Build(title, def, phases)
	if err != nil {
		return err
	}

	var out []byte
	switch diagramFormat {
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "png", "svg", "dot":
		if out, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(diagramFormat)); err != nil {
			return err
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", diagramFormat)
	}

	if diagramOutput == "" {
		if diagramFormat == "png" {
			return fmt.Errorf("png output needs --output")
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(diagramOutput, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", diagramOutput, err)
	}
	fmt.Printf("Diagram written to %s\n", diagramOutput)
	return nil
}
