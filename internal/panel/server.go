// Package panel serves the HTTP management API: workflows, executions,
// schedules, credits and live execution progress over Server-Sent Events.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/scheduler"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/streaming"
	"github.com/rendis/pagepilot/internal/validation"
)

// UserHeader carries the caller identity on every request.
const UserHeader = "X-User-ID"

// Orchestrator runs, inspects and cancels executions. Satisfied by *engine.Orchestrator.
type Orchestrator interface {
	Run(ctx context.Context, req engine.RunRequest) (*store.Execution, error)
	Status(ctx context.Context, executionID, userID string) (*engine.ExecutionReport, error)
	Cancel(executionID, ownerID string) error
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store        store.Store
	Orchestrator Orchestrator
	Publisher    *validation.Publisher
	Scheduler    *scheduler.Scheduler
	Ledger       *credits.Ledger
	Hub          streaming.EventHub
	DefaultUser  string // used when a request carries no UserHeader
	Logger       *slog.Logger
}

// PanelServer serves the management API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/publish", s.handlePublish)
	mux.HandleFunc("POST /api/workflows/{id}/unpublish", s.handleUnpublish)
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRun)
	mux.HandleFunc("PUT /api/workflows/{id}/schedule", s.handleSchedule)
	mux.HandleFunc("DELETE /api/workflows/{id}/schedule", s.handleUnschedule)

	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancel)

	mux.HandleFunc("GET /api/credits", s.handleCredits)

	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return mux
}

// ListenAndServe serves the panel on addr until ctx is cancelled.
func (s *PanelServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("panel listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
