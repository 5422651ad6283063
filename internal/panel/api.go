package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// user resolves the caller of r. It writes a 401 and returns "" when there is none.
func (s *PanelServer) user(w http.ResponseWriter, r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	if s.deps.DefaultUser != "" {
		return s.deps.DefaultUser
	}
	writeEngineError(w, schema.NewErrorf(schema.ErrCodeUnauthorized, "%s header is required", UserHeader))
	return ""
}

func (s *PanelServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	filter := store.WorkflowFilter{
		OwnerID: owner,
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		ws := schema.WorkflowStatus(status)
		filter.Status = &ws
	}

	workflows, err := s.deps.Store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *PanelServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *PanelServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	wf, err := s.deps.Publisher.Publish(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *PanelServer) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Publisher.Unpublish(r.Context(), id, owner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": string(schema.WorkflowDraft)})
}

// handleRun runs the workflow to completion and returns its report.
// A failed execution is still a 200: the report carries the reason.
func (s *PanelServer) handleRun(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	exec, err := s.deps.Orchestrator.Run(r.Context(), engine.RunRequest{
		WorkflowID: r.PathValue("id"),
		UserID:     owner,
		Trigger:    schema.TriggerManual,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	report, err := s.deps.Orchestrator.Status(context.WithoutCancel(r.Context()), exec.ID, owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *PanelServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	var body struct {
		Cron string `json:"cron"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Cron == "" {
		writeError(w, http.StatusBadRequest, "cron is required")
		return
	}

	id := r.PathValue("id")
	next, err := s.deps.Scheduler.Schedule(r.Context(), id, owner, body.Cron, time.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "cron": body.Cron, "next_run_at": next})
}

func (s *PanelServer) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Scheduler.Unschedule(r.Context(), id, owner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id})
}

func (s *PanelServer) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	filter := store.ExecutionFilter{
		OwnerID:    owner,
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      queryInt(r, "limit", 20),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		es := schema.ExecutionStatus(status)
		filter.Status = &es
	}

	execs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *PanelServer) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	report, err := s.deps.Orchestrator.Status(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *PanelServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Orchestrator.Cancel(id, owner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

func (s *PanelServer) handleCredits(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	balance, err := s.deps.Ledger.Balance(r.Context(), owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": owner, "balance": balance})
}
