package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/pagepilot/internal/browser"
	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/logging"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/streaming"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// TaskCatalog resolves task kinds to their definitions.
// Satisfied by *tasks.Registry.
type TaskCatalog interface {
	Lookup(kind schema.TaskKind) (*tasks.Definition, error)
}

// CreditLedger deducts credits atomically. Satisfied by *credits.Ledger.
type CreditLedger interface {
	TryDeduct(ctx context.Context, userID string, amount int) error
}

// Store is the persistence the orchestrator reads workflows from and writes
// executions, phases and logs to.
type Store interface {
	store.WorkflowStore
	store.ExecutionStore
}

// OrchestratorConfig holds configuration for the Orchestrator.
type OrchestratorConfig struct {
	Launcher    browser.Launcher
	Credentials environment.CredentialResolver
	Dispatch    DispatchConfig
	Events      streaming.EventHub // nil disables progress events
	Clock       func() time.Time   // nil = time.Now
	Logger      *slog.Logger
}

// RunRequest identifies the workflow to run and on whose behalf.
type RunRequest struct {
	WorkflowID string             `json:"workflow_id"`
	UserID     string             `json:"user_id"`
	Trigger    schema.TriggerKind `json:"trigger"`
}

// ExecutionReport is an execution with its phases and their logs, in order.
type ExecutionReport struct {
	Execution *store.Execution `json:"execution"`
	Phases    []*PhaseReport   `json:"phases"`
}

// PhaseReport is one phase with its logs.
type PhaseReport struct {
	Phase *store.Phase      `json:"phase"`
	Logs  []*store.LogEntry `json:"logs"`
}

// Orchestrator turns a persisted workflow into an execution: it orders the
// graph into phases, runs them one at a time against a fresh environment and
// records the outcome of every phase as it finishes.
type Orchestrator struct {
	store       Store
	catalog     TaskCatalog
	ledger      CreditLedger
	dispatch    *Dispatcher
	launcher    browser.Launcher
	credentials environment.CredentialResolver
	events      streaming.EventHub
	clock       func() time.Time
	logger      *slog.Logger

	// mu guards running.
	mu      sync.Mutex
	running map[string]*executionRun
}

// executionRun tracks a single in-flight execution.
type executionRun struct {
	exec      *store.Execution
	fsm       *ExecutionFSM
	cancelled atomic.Bool
}

// executionPlan is a validated graph with the task of every node resolved.
type executionPlan struct {
	def  *schema.FlowDefinition
	dag  *DAG
	defs map[string]*tasks.Definition
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(s Store, catalog TaskCatalog, ledger CreditLedger, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dispatch.Logger == nil {
		cfg.Dispatch.Logger = cfg.Logger
	}
	return &Orchestrator{
		store:       s,
		catalog:     catalog,
		ledger:      ledger,
		dispatch:    NewDispatcher(cfg.Dispatch),
		launcher:    cfg.Launcher,
		credentials: cfg.Credentials,
		events:      cfg.Events,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		running:     make(map[string]*executionRun),
	}
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC()
}

// Run executes a workflow owned by req.UserID and returns the finished
// execution. A failed phase is not an error: the execution comes back with
// status failed and a failure reason. Errors are returned when no execution
// could be started (unknown workflow, invalid graph) or when persisting the
// outcome failed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (result *store.Execution, err error) {
	if req.UserID == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "caller identity is required")
	}
	if req.Trigger == "" {
		req.Trigger = schema.TriggerManual
	}

	wf, err := o.store.GetWorkflow(ctx, req.WorkflowID, req.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := o.plan(&wf.Definition)
	if err != nil {
		return nil, err
	}

	exec := &store.Execution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		OwnerID:    req.UserID,
		Trigger:    req.Trigger,
		Status:     schema.ExecutionPending,
		Definition: wf.Definition,
		CreatedAt:  o.now(),
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "create execution").WithCause(err)
	}

	ctx = logging.WithIDs(ctx, exec.ID, wf.ID, req.UserID)
	// Outcome writes must land even when the caller gives up.
	persistCtx := context.WithoutCancel(ctx)

	run := &executionRun{exec: exec, fsm: NewExecutionFSM(exec.ID)}
	o.track(run)
	defer o.untrack(exec.ID)

	env := environment.New(environment.Options{
		UserID:      req.UserID,
		Launcher:    o.launcher,
		Credentials: o.credentials,
		Clock:       o.clock,
	})
	defer func() {
		if cerr := env.Close(); cerr != nil {
			o.logger.WarnContext(persistCtx, "browser teardown failed", "error", cerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(persistCtx, "execution panic", "panic", r, "stack", string(debug.Stack()))
			if ferr := o.finish(persistCtx, run, wf, schema.ExecutionFailed, schema.ErrCodeExecutorFailure); ferr != nil {
				o.logger.ErrorContext(persistCtx, "record failed execution", "error", ferr)
			}
			result, err = exec, schema.NewErrorf(schema.ErrCodeExecutorFailure, "execution panicked: %v", r)
		}
	}()

	if err := run.fsm.Transition(schema.ExecutionRunning); err != nil {
		return exec, err
	}
	started := o.now()
	running := schema.ExecutionRunning
	if err := o.store.UpdateExecution(persistCtx, exec.ID, store.ExecutionUpdate{Status: &running, StartedAt: &started}); err != nil {
		return exec, o.abort(persistCtx, run, wf, schema.NewError(schema.ErrCodeStore, "start execution").WithCause(err))
	}
	exec.Status = running
	exec.StartedAt = &started
	o.logger.InfoContext(ctx, "execution started", "phases", len(plan.dag.Sorted), "trigger", string(req.Trigger))
	o.emit(persistCtx, exec, streaming.StreamEvent{
		EventType: streaming.EventExecutionStarted,
		Payload:   map[string]any{"phases": len(plan.dag.Sorted), "trigger": string(req.Trigger)},
	})

	reason := ""
	for i, nodeID := range plan.dag.Sorted {
		seq := i + 1
		if o.interrupted(ctx, run) {
			reason = schema.ErrCodeCancelled
			o.logger.InfoContext(ctx, "execution cancelled", "next_phase", seq)
			break
		}
		outcome, err := o.runPhase(ctx, run, env, plan, seq, nodeID)
		exec.CreditsConsumed += outcome.credits
		if err != nil {
			return exec, o.abort(persistCtx, run, wf, err)
		}
		if outcome.failure != "" {
			reason = outcome.failure
			break
		}
	}
	// A cancel that arrived during the last phase is still honored.
	if reason == "" && o.interrupted(ctx, run) {
		reason = schema.ErrCodeCancelled
		o.logger.InfoContext(ctx, "execution cancelled after last phase")
	}

	final := schema.ExecutionCompleted
	if reason != "" {
		final = schema.ExecutionFailed
	}
	if err := o.finish(persistCtx, run, wf, final, reason); err != nil {
		return exec, err
	}
	return exec, nil
}

// plan orders the graph and resolves every node's task up front, so an
// invalid workflow never produces an execution.
func (o *Orchestrator) plan(def *schema.FlowDefinition) (*executionPlan, error) {
	dag, err := ParseDAG(def)
	if err != nil {
		return nil, err
	}
	p := &executionPlan{def: def, dag: dag, defs: make(map[string]*tasks.Definition, len(dag.Sorted))}
	for _, id := range dag.Sorted {
		n := dag.Nodes[id]
		td, err := o.catalog.Lookup(n.Type)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s uses unknown task %s", id, n.Type).WithCause(err)
		}
		p.defs[id] = td
	}
	return p, nil
}

type phaseOutcome struct {
	credits int
	failure string // error code; "" when the phase completed
}

// runPhase creates, runs and records one phase. The returned error is set
// only when persistence failed; task failures are reported in the outcome.
func (o *Orchestrator) runPhase(ctx context.Context, run *executionRun, env *environment.Environment, plan *executionPlan, seq int, nodeID string) (phaseOutcome, error) {
	ctx = logging.WithPhase(ctx, seq)
	persistCtx := context.WithoutCancel(ctx)
	node := plan.dag.Nodes[nodeID]
	def := plan.defs[nodeID]

	phase := &store.Phase{
		ID:          uuid.NewString(),
		ExecutionID: run.exec.ID,
		Sequence:    seq,
		NodeID:      nodeID,
		Kind:        node.Type,
		Label:       node.Label,
		Status:      schema.PhasePending,
	}
	if err := o.store.CreatePhase(persistCtx, phase); err != nil {
		return phaseOutcome{}, schema.NewErrorf(schema.ErrCodeStore, "create phase %d", seq).WithPhase(seq).WithCause(err)
	}

	fsm := NewPhaseFSM(seq)
	if err := fsm.Transition(schema.PhaseRunning); err != nil {
		return phaseOutcome{}, err
	}
	started := o.now()
	status := schema.PhaseRunning
	if err := o.store.UpdatePhase(persistCtx, phase.ID, store.PhaseUpdate{Status: &status, StartedAt: &started}); err != nil {
		return phaseOutcome{}, schema.NewErrorf(schema.ErrCodeStore, "start phase %d", seq).WithPhase(seq).WithCause(err)
	}

	o.emit(persistCtx, run.exec, streaming.StreamEvent{
		Phase:     seq,
		NodeID:    nodeID,
		EventType: streaming.EventPhaseStarted,
		Payload:   map[string]any{"task": string(def.Kind), "label": node.Label},
	})

	log := env.Log(seq)
	inputs, unresolved := resolveInputs(plan, env, node, def)
	env.SetInputs(seq, inputs)

	var out phaseOutcome
	if len(unresolved) > 0 {
		for _, msg := range unresolved {
			log.Error(msg)
		}
		out.failure = schema.ErrCodeUnresolvedInput
	} else if !o.dispatch.Ready(def, env.Scope(seq)) {
		out.failure = schema.ErrCodeMissingInput
	} else if out.failure = o.charge(ctx, run.exec.OwnerID, def, log); out.failure == "" {
		out.credits = def.Credits
		o.logger.DebugContext(ctx, "phase started", "task", string(def.Kind), "node", nodeID)
		if !o.dispatch.Run(ctx, def, env.Scope(seq)) {
			out.failure = schema.ErrCodeExecutorFailure
		}
	}

	status = schema.PhaseCompleted
	if out.failure != "" {
		status = schema.PhaseFailed
	}
	if err := fsm.Transition(status); err != nil {
		return out, err
	}
	completed := o.now()
	credits := out.credits
	update := store.PhaseUpdate{
		Status:          &status,
		Inputs:          inputs,
		Outputs:         env.Outputs(seq),
		CreditsConsumed: &credits,
		CompletedAt:     &completed,
	}
	if err := o.store.UpdatePhase(persistCtx, phase.ID, update); err != nil {
		return out, schema.NewErrorf(schema.ErrCodeStore, "finish phase %d", seq).WithPhase(seq).WithCause(err)
	}
	if err := o.store.AppendLogs(persistCtx, phase.ID, toStoreLogs(log.Entries())); err != nil {
		return out, schema.NewErrorf(schema.ErrCodeStore, "write logs of phase %d", seq).WithPhase(seq).WithCause(err)
	}

	o.logger.InfoContext(ctx, "phase finished",
		"task", string(def.Kind), "status", string(status), "credits", credits, "failure", out.failure)
	o.emit(persistCtx, run.exec, streaming.StreamEvent{
		Phase:     seq,
		NodeID:    nodeID,
		EventType: streaming.EventPhaseFinished,
		Payload:   map[string]any{"task": string(def.Kind), "status": string(status), "credits": credits, "failure": out.failure},
	})
	return out, nil
}

// charge deducts the task cost. It returns "" on success, or the error code
// after writing the reason to the phase log.
func (o *Orchestrator) charge(ctx context.Context, userID string, def *tasks.Definition, log *environment.LogCollector) string {
	err := o.ledger.TryDeduct(ctx, userID, def.Credits)
	if err == nil {
		return ""
	}
	if schema.IsCode(err, schema.ErrCodeInsufficientCredits) {
		log.Errorf("insufficient credits: %s costs %d", def.Kind, def.Credits)
		o.logger.WarnContext(ctx, "credit deduction rejected", "task", string(def.Kind), "amount", def.Credits)
		return schema.ErrCodeInsufficientCredits
	}
	log.Errorf("credit check failed: %v", err)
	o.logger.ErrorContext(ctx, "credit deduction failed", "error", err)
	if code := schema.CodeOf(err); code != "" {
		return code
	}
	return schema.ErrCodeStore
}

// resolveInputs gathers the declared inputs of a node. A non-empty constant
// configured on the node wins; otherwise the value comes from the upstream
// output wired to the input. The second result describes every wired input
// whose upstream value was never produced.
func resolveInputs(plan *executionPlan, env *environment.Environment, node *schema.FlowNode, def *tasks.Definition) (map[string]string, []string) {
	inputs := make(map[string]string, len(def.Inputs))
	var unresolved []string
	for _, p := range def.Inputs {
		if v := node.Inputs[p.Name]; v != "" {
			inputs[p.Name] = v
			continue
		}
		e := plan.def.IncomingEdge(node.ID, p.Name)
		if e == nil {
			continue
		}
		v, ok := env.Output(plan.dag.Sequence(e.Source), e.SourceHandle)
		if !ok {
			unresolved = append(unresolved,
				fmt.Sprintf("input %q is not resolved: node %s produced no %q", p.Name, e.Source, e.SourceHandle))
			continue
		}
		inputs[p.Name] = v
	}
	return inputs, unresolved
}

func toStoreLogs(entries []environment.LogEntry) []*store.LogEntry {
	out := make([]*store.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = &store.LogEntry{Timestamp: e.Timestamp, Level: e.Level, Message: e.Message}
	}
	return out
}

func (o *Orchestrator) interrupted(ctx context.Context, run *executionRun) bool {
	return run.cancelled.Load() || ctx.Err() != nil
}

// finish moves the execution to a terminal status, persists it and records
// the run on the workflow.
func (o *Orchestrator) finish(ctx context.Context, run *executionRun, wf *store.Workflow, status schema.ExecutionStatus, reason string) error {
	if err := run.fsm.Transition(status); err != nil {
		return err
	}
	exec := run.exec
	completed := o.now()
	credits := exec.CreditsConsumed
	update := store.ExecutionUpdate{Status: &status, CreditsConsumed: &credits, CompletedAt: &completed}
	if reason != "" {
		update.FailureReason = &reason
	}
	exec.Status = status
	exec.FailureReason = reason
	exec.CompletedAt = &completed
	if err := o.store.UpdateExecution(ctx, exec.ID, update); err != nil {
		return schema.NewError(schema.ErrCodeStore, "finish execution").WithCause(err)
	}

	lastRun := completed
	if exec.StartedAt != nil {
		lastRun = *exec.StartedAt
	}
	wfUpdate := store.WorkflowUpdate{LastRunAt: &lastRun, LastRunID: &exec.ID, LastRunStatus: &status}
	if err := o.store.UpdateWorkflow(ctx, wf.ID, wfUpdate); err != nil {
		o.logger.WarnContext(ctx, "record last run on workflow", "error", err)
	}

	o.logger.InfoContext(ctx, "execution finished",
		"status", string(status), "reason", reason, "credits", credits)
	o.emit(ctx, exec, streaming.StreamEvent{
		EventType: streaming.EventExecutionFinished,
		Payload:   map[string]any{"status": string(status), "reason": reason, "credits": credits},
	})
	return nil
}

// emit publishes a progress event of exec. Delivery is best effort.
func (o *Orchestrator) emit(ctx context.Context, exec *store.Execution, ev streaming.StreamEvent) {
	if o.events == nil {
		return
	}
	ev.ExecutionID = exec.ID
	ev.WorkflowID = exec.WorkflowID
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.DebugContext(ctx, "publish progress event", "event", ev.EventType, "error", err)
	}
}

// abort fails the execution after a persistence error and returns cause.
func (o *Orchestrator) abort(ctx context.Context, run *executionRun, wf *store.Workflow, cause error) error {
	o.logger.ErrorContext(ctx, "execution aborted", "error", cause)
	if err := o.finish(ctx, run, wf, schema.ExecutionFailed, schema.ErrCodeStore); err != nil {
		o.logger.ErrorContext(ctx, "record aborted execution", "error", err)
	}
	return cause
}

func (o *Orchestrator) track(run *executionRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[run.exec.ID] = run
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

// Cancel asks a running execution to stop. The phase in flight finishes;
// no further phase starts and the execution fails with reason CANCELLED.
func (o *Orchestrator) Cancel(executionID, ownerID string) error {
	o.mu.Lock()
	run, ok := o.running[executionID]
	o.mu.Unlock()
	if !ok || run.exec.OwnerID != ownerID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s is not running", executionID)
	}
	run.cancelled.Store(true)
	return nil
}

// Running returns the IDs of executions in flight.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	return ids
}

// Status returns an execution with its phases and logs in order.
func (o *Orchestrator) Status(ctx context.Context, executionID, ownerID string) (*ExecutionReport, error) {
	exec, err := o.store.GetExecution(ctx, executionID, ownerID)
	if err != nil {
		return nil, err
	}
	phases, err := o.store.ListPhases(ctx, executionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list phases").WithCause(err)
	}
	report := &ExecutionReport{Execution: exec, Phases: make([]*PhaseReport, 0, len(phases))}
	for _, p := range phases {
		logs, err := o.store.ListLogs(ctx, p.ID)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "list logs of phase %d", p.Sequence).WithCause(err)
		}
		report.Phases = append(report.Phases, &PhaseReport{Phase: p, Logs: logs})
	}
	return report, nil
}
