package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/pagepilot/internal/diagram"
	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// handleImport stores a flow definition as a draft workflow.
func (s *Server) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	data, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	if err := s.validator.ValidateJSON(data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	var def schema.FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	wf := &store.Workflow{
		ID:          uuid.NewString(),
		OwnerID:     user,
		Name:        name,
		Description: req.GetString("description", ""),
		Definition:  def,
		Status:      schema.WorkflowDraft,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"status":      wf.Status,
		"validation":  s.validator.Validate(&def),
	})
}

// handlePublish publishes a workflow or returns it to draft.
func (s *Server) handlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}

	if req.GetBool("unpublish", false) {
		if err := s.publisher.Unpublish(ctx, workflowID, user); err != nil {
			return toolError("unpublish failed", err), nil
		}
		return marshalResult(map[string]any{"workflow_id": workflowID, "status": schema.WorkflowDraft})
	}

	wf, err := s.publisher.Publish(ctx, workflowID, user)
	if err != nil {
		return toolError("publish failed", err), nil
	}
	return marshalResult(map[string]any{
		"workflow_id":  wf.ID,
		"status":       wf.Status,
		"credits_cost": wf.CreditsCost,
	})
}

// handleRun runs a workflow and returns the execution report. A failed phase
// is reported in the report, not as a tool error.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}

	exec, err := s.orch.Run(ctx, engine.RunRequest{
		WorkflowID: workflowID,
		UserID:     user,
		Trigger:    schema.TriggerManual,
	})
	if err != nil {
		return toolError("run rejected", err), nil
	}

	report, err := s.orch.Status(context.WithoutCancel(ctx), exec.ID, user)
	if err != nil {
		return marshalResult(exec)
	}
	return marshalResult(report)
}

// handleStatus returns an execution with its phases and logs.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}

	report, err := s.orch.Status(ctx, executionID, user)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(report)
}

// handleSchedule sets or clears a workflow's cron schedule.
func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}

	expr := req.GetString("cron", "")
	if expr == "" {
		if err := s.sched.Unschedule(ctx, workflowID, user); err != nil {
			return toolError("unschedule failed", err), nil
		}
		return marshalResult(map[string]any{"workflow_id": workflowID, "scheduled": false})
	}

	next, err := s.sched.Schedule(ctx, workflowID, user, expr, time.Now())
	if err != nil {
		return toolError("schedule failed", err), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"scheduled":   true,
		"cron":        expr,
		"next_run_at": next,
	})
}

// handleQuery lists workflows or executions of the user.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, user, filter)
	case "executions":
		return s.queryExecutions(ctx, user, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *Server) queryWorkflows(ctx context.Context, user string, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		OwnerID: user,
		Limit:   extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ws := schema.WorkflowStatus(status)
		wf.Status = &ws
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *Server) queryExecutions(ctx context.Context, user string, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		OwnerID: user,
		Limit:   extractInt(filter, "limit", 20),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}

	execs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// handleDiagram draws a workflow, or an execution with its phase statuses.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}

	workflowID := req.GetString("workflow_id", "")
	executionID := req.GetString("execution_id", "")

	var (
		title  string
		def    *schema.FlowDefinition
		phases []*store.Phase
	)
	switch {
	case executionID != "":
		report, err := s.orch.Status(ctx, executionID, user)
		if err != nil {
			return toolError("execution lookup failed", err), nil
		}
		title = fmt.Sprintf("execution %s (%s)", report.Execution.ID, report.Execution.Status)
		def = &report.Execution.Definition
		for _, p := range report.Phases {
			phases = append(phases, p.Phase)
		}
	case workflowID != "":
		wf, err := s.store.GetWorkflow(ctx, workflowID, user)
		if err != nil {
			return toolError("workflow lookup failed", err), nil
		}
		title = wf.Name
		def = &wf.Definition
	default:
		return mcp.NewToolResultError("one of workflow_id or execution_id is required"), nil
	}

	model, err := diagram.Build(title, def, phases)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultImage(title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// handleCredits returns the user's credit balance.
func (s *Server) handleCredits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errResult := s.user(req)
	if errResult != nil {
		return errResult, nil
	}
	balance, err := s.ledger.Balance(ctx, user)
	if err != nil {
		return toolError("balance query failed", err), nil
	}
	return marshalResult(map[string]any{"user_id": user, "credits": balance})
}

// --- Internal helpers ---

// user resolves the acting user of a call.
func (s *Server) user(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	if u := req.GetString("user_id", s.defaultUser); u != "" {
		return u, nil
	}
	return "", mcp.NewToolResultError("user_id is required")
}

// toolError reports err as a tool error. Engine errors carry their code in the message.
func toolError(msg string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
