package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/pagepilot/internal/streaming"
)

// handleSSEWorkflow streams progress of every execution of one workflow.
func (s *PanelServer) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetWorkflow(r.Context(), id, owner); err != nil {
		writeEngineError(w, err)
		return
	}
	s.serveSSE(w, r, streaming.EventFilter{WorkflowID: id})
}

// handleSSEExecution streams progress of one execution.
func (s *PanelServer) handleSSEExecution(w http.ResponseWriter, r *http.Request) {
	owner := s.user(w, r)
	if owner == "" {
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetExecution(r.Context(), id, owner); err != nil {
		writeEngineError(w, err)
		return
	}
	s.serveSSE(w, r, streaming.EventFilter{ExecutionID: id})
}

// serveSSE is the common SSE implementation. The stream for an execution
// ends after its execution.finished event.
func (s *PanelServer) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "progress events are disabled")
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
			if filter.ExecutionID != "" && event.EventType == streaming.EventExecutionFinished {
				return
			}
		}
	}
}
