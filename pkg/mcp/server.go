// Package mcp exposes the workflow engine to agents as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/scheduler"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/validation"
)

// Orchestrator runs executions and reports on them. Satisfied by *engine.Orchestrator.
type Orchestrator interface {
	Run(ctx context.Context, req engine.RunRequest) (*store.Execution, error)
	Status(ctx context.Context, executionID, userID string) (*engine.ExecutionReport, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Store        store.Store
	Orchestrator Orchestrator
	Validator    *validation.FlowValidator
	Publisher    *validation.Publisher
	Scheduler    *scheduler.Scheduler
	Ledger       *credits.Ledger
	// DefaultUser is used when a tool call carries no user_id.
	DefaultUser string
	Logger      *slog.Logger
}

// Server wraps an MCP server with pagepilot tool handlers.
type Server struct {
	store       store.Store
	orch        Orchestrator
	validator   *validation.FlowValidator
	publisher   *validation.Publisher
	sched       *scheduler.Scheduler
	ledger      *credits.Ledger
	defaultUser string
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		store:       deps.Store,
		orch:        deps.Orchestrator,
		validator:   deps.Validator,
		publisher:   deps.Publisher,
		sched:       deps.Scheduler,
		ledger:      deps.Ledger,
		defaultUser: deps.DefaultUser,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"pagepilot",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("pagepilot runs browser automation workflows. Import a flow with pagepilot.import, "+
			"publish it with pagepilot.publish, run it with pagepilot.run and inspect executions with pagepilot.status. "+
			"Runs are charged in credits; check them with pagepilot.credits."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: publishTool(), Handler: s.handlePublish},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: creditsTool(), Handler: s.handleCredits},
	}
}

// --- Tool definitions ---

func userParam() mcp.ToolOption {
	return mcp.WithString("user_id", mcp.Description("User the call acts for (default: the server's user)"))
}

func importTool() mcp.Tool {
	return mcp.NewTool("pagepilot.import",
		mcp.WithDescription("Store a flow definition as a draft workflow and report validation issues"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition with nodes and edges")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		userParam(),
	)
}

func publishTool() mcp.Tool {
	return mcp.NewTool("pagepilot.publish",
		mcp.WithDescription("Validate and publish a workflow, or return it to draft"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithBoolean("unpublish", mcp.Description("Return a published workflow to draft")),
		userParam(),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("pagepilot.run",
		mcp.WithDescription("Run a workflow now and return the execution with its phases"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		userParam(),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("pagepilot.status",
		mcp.WithDescription("Get an execution with its phases and logs"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		userParam(),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("pagepilot.schedule",
		mcp.WithDescription("Set or clear the UTC cron schedule of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("cron", mcp.Description("Cron expression; empty clears the schedule")),
		userParam(),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("pagepilot.query",
		mcp.WithDescription("List workflows or executions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow_id, limit)")),
		userParam(),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("pagepilot.diagram",
		mcp.WithDescription("Draw a workflow or an execution. Returns ASCII art, Mermaid flowchart syntax, or a PNG image"),
		mcp.WithString("workflow_id", mcp.Description("Workflow to draw")),
		mcp.WithString("execution_id", mcp.Description("Execution to draw, with the status of each phase")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (PNG)"),
		),
		userParam(),
	)
}

func creditsTool() mcp.Tool {
	return mcp.NewTool("pagepilot.credits",
		mcp.WithDescription("Get the user's credit balance"),
		userParam(),
	)
}
