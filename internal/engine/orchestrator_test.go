package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/browser/browsertest"
	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// --- Mock store ---

// memStore is an in-memory Store plus BalanceStore. Methods the
// orchestrator never calls fall through to the nil embedded interface.
type memStore struct {
	store.Store

	mu         sync.Mutex
	workflows  map[string]*store.Workflow
	executions map[string]*store.Execution
	execOrder  []string
	phases     map[string]*store.Phase
	logs       map[string][]*store.LogEntry
	balances   map[string]int
	nextLogID  int64

	failCreatePhase error
}

func newMemStore() *memStore {
	return &memStore{
		workflows:  make(map[string]*store.Workflow),
		executions: make(map[string]*store.Execution),
		phases:     make(map[string]*store.Phase),
		logs:       make(map[string][]*store.LogEntry),
		balances:   make(map[string]int),
	}
}

func (m *memStore) GetWorkflow(_ context.Context, id, ownerID string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok || wf.OwnerID != ownerID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *memStore) UpdateWorkflow(_ context.Context, id string, u store.WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	if u.LastRunAt != nil {
		wf.LastRunAt = u.LastRunAt
	}
	if u.LastRunID != nil {
		wf.LastRunID = *u.LastRunID
	}
	if u.LastRunStatus != nil {
		wf.LastRunStatus = *u.LastRunStatus
	}
	return nil
}

func (m *memStore) CreateExecution(_ context.Context, exec *store.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	m.execOrder = append(m.execOrder, exec.ID)
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id, ownerID string) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok || exec.OwnerID != ownerID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	cp := *exec
	return &cp, nil
}

func (m *memStore) UpdateExecution(_ context.Context, id string, u store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	if u.Status != nil {
		exec.Status = *u.Status
	}
	if u.CreditsConsumed != nil {
		exec.CreditsConsumed = *u.CreditsConsumed
	}
	if u.FailureReason != nil {
		exec.FailureReason = *u.FailureReason
	}
	if u.StartedAt != nil {
		exec.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		exec.CompletedAt = u.CompletedAt
	}
	return nil
}

func (m *memStore) CreatePhase(_ context.Context, p *store.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreatePhase != nil {
		return m.failCreatePhase
	}
	for _, existing := range m.phases {
		if existing.ExecutionID == p.ExecutionID && existing.Sequence == p.Sequence {
			return schema.NewErrorf(schema.ErrCodeConflict, "phase %d exists", p.Sequence)
		}
	}
	cp := *p
	m.phases[p.ID] = &cp
	return nil
}

func (m *memStore) UpdatePhase(_ context.Context, id string, u store.PhaseUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "phase %s not found", id)
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.Inputs != nil {
		p.Inputs = u.Inputs
	}
	if u.Outputs != nil {
		p.Outputs = u.Outputs
	}
	if u.CreditsConsumed != nil {
		p.CreditsConsumed = *u.CreditsConsumed
	}
	if u.StartedAt != nil {
		p.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		p.CompletedAt = u.CompletedAt
	}
	return nil
}

func (m *memStore) ListPhases(_ context.Context, executionID string) ([]*store.Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Phase
	for _, p := range m.phases {
		if p.ExecutionID == executionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) AppendLogs(_ context.Context, phaseID string, entries []*store.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextLogID++
		e.ID = m.nextLogID
		e.PhaseID = phaseID
		m.logs[phaseID] = append(m.logs[phaseID], e)
	}
	return nil
}

func (m *memStore) ListLogs(_ context.Context, phaseID string) ([]*store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.LogEntry(nil), m.logs[phaseID]...), nil
}

func (m *memStore) GetBalance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memStore) DecrementCredits(_ context.Context, userID string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return false, nil
	}
	m.balances[userID] -= amount
	return true, nil
}

func (m *memStore) AddCredits(_ context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

func (m *memStore) executionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.execOrder)
}

func (m *memStore) balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

// --- Harness ---

const owner = "user-1"

type harness struct {
	store    *memStore
	launcher *browsertest.Launcher
	reg      *tasks.Registry
	orch     *Orchestrator
}

func newHarness(t *testing.T, balance int, configure ...func(*OrchestratorConfig)) *harness {
	t.Helper()
	ms := newMemStore()
	ms.balances[owner] = balance
	launcher := browsertest.NewLauncher()
	reg := tasks.NewBuiltinRegistry(tasks.BuiltinConfig{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := OrchestratorConfig{Launcher: launcher, Logger: logger}
	for _, fn := range configure {
		fn(&cfg)
	}
	return &harness{
		store:    ms,
		launcher: launcher,
		reg:      reg,
		orch:     NewOrchestrator(ms, reg, credits.NewLedger(ms, logger), cfg),
	}
}

func (h *harness) addWorkflow(t *testing.T, def schema.FlowDefinition) *store.Workflow {
	t.Helper()
	wf := &store.Workflow{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		Name:       "wf",
		Definition: def,
		Status:     schema.WorkflowPublished,
	}
	h.store.mu.Lock()
	h.store.workflows[wf.ID] = wf
	h.store.mu.Unlock()
	return wf
}

func (h *harness) run(t *testing.T, def schema.FlowDefinition) *store.Execution {
	t.Helper()
	wf := h.addWorkflow(t, def)
	exec, err := h.orch.Run(context.Background(), RunRequest{WorkflowID: wf.ID, UserID: owner})
	require.NoError(t, err)
	require.NotNil(t, exec)
	return exec
}

func (h *harness) report(t *testing.T, exec *store.Execution) *ExecutionReport {
	t.Helper()
	rep, err := h.orch.Status(context.Background(), exec.ID, owner)
	require.NoError(t, err)
	return rep
}

func (h *harness) register(t *testing.T, def tasks.Definition) {
	t.Helper()
	require.NoError(t, h.reg.Register(def))
}

func logMessages(logs []*store.LogEntry) []string {
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Message
	}
	return out
}

func hasCall(calls []browsertest.Call, method string) bool {
	for _, c := range calls {
		if c.Method == method {
			return true
		}
	}
	return false
}

// scrapeFlow is launch → navigate → page to html.
func scrapeFlow() schema.FlowDefinition {
	return schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			node("launch", schema.TaskLaunchBrowser),
			{ID: "nav", Type: schema.TaskNavigateURL, Inputs: map[string]string{"URL": "https://example.com"}},
			node("html", schema.TaskPageToHTML),
		},
		Edges: []schema.FlowEdge{pageEdge("launch", "nav"), pageEdge("nav", "html")},
	}
}

// --- Tests ---

func TestRun_CompletesAllPhases(t *testing.T) {
	h := newHarness(t, 10)
	wf := h.addWorkflow(t, scrapeFlow())

	exec, err := h.orch.Run(context.Background(), RunRequest{WorkflowID: wf.ID, UserID: owner})
	require.NoError(t, err)

	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Empty(t, exec.FailureReason)
	assert.Equal(t, 3, exec.CreditsConsumed)
	assert.Equal(t, schema.TriggerManual, exec.Trigger)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.CompletedAt)
	assert.Equal(t, 7, h.store.balance(owner))

	rep := h.report(t, exec)
	assert.Equal(t, schema.ExecutionCompleted, rep.Execution.Status)
	require.Len(t, rep.Phases, 3)
	sum := 0
	for i, p := range rep.Phases {
		assert.Equal(t, i+1, p.Phase.Sequence)
		assert.Equal(t, schema.PhaseCompleted, p.Phase.Status)
		sum += p.Phase.CreditsConsumed
	}
	assert.Equal(t, exec.CreditsConsumed, sum)

	assert.Equal(t, "https://example.com", rep.Phases[1].Phase.Inputs["URL"])
	assert.Equal(t, tasks.PageHandle, rep.Phases[1].Phase.Inputs["Web page"])
	assert.Contains(t, rep.Phases[2].Phase.Outputs["Html"], "example.com")
	assert.Contains(t, logMessages(rep.Phases[0].Logs), "Browser started successfully")

	assert.Equal(t, 1, h.launcher.Launches())
	assert.Equal(t, 1, h.launcher.Closes())

	h.store.mu.Lock()
	stored := h.store.workflows[wf.ID]
	assert.Equal(t, exec.ID, stored.LastRunID)
	assert.Equal(t, schema.ExecutionCompleted, stored.LastRunStatus)
	assert.NotNil(t, stored.LastRunAt)
	h.store.mu.Unlock()
}

func TestRun_FailedPhaseStopsExecution(t *testing.T) {
	h := newHarness(t, 10)
	h.launcher.Fail["Click"] = errors.New("element detached")

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			node("launch", schema.TaskLaunchBrowser),
			{ID: "click", Type: schema.TaskClickElement, Inputs: map[string]string{"Selector": "#go"}},
			node("html", schema.TaskPageToHTML),
		},
		Edges: []schema.FlowEdge{pageEdge("launch", "click"), pageEdge("click", "html")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeExecutorFailure, exec.FailureReason)
	assert.Equal(t, 2, exec.CreditsConsumed)
	assert.Equal(t, 8, h.store.balance(owner))

	rep := h.report(t, exec)
	require.Len(t, rep.Phases, 2, "no phase is created after a failure")
	assert.Equal(t, schema.PhaseCompleted, rep.Phases[0].Phase.Status)
	assert.Equal(t, schema.PhaseFailed, rep.Phases[1].Phase.Status)
	assert.Contains(t, logMessages(rep.Phases[1].Logs), "element detached")

	assert.False(t, hasCall(h.launcher.Calls(), "Content"))
	assert.Equal(t, 1, h.launcher.Closes())
}

func TestRun_InsufficientCredits(t *testing.T) {
	h := newHarness(t, 2)
	exec := h.run(t, scrapeFlow())

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeInsufficientCredits, exec.FailureReason)
	assert.Equal(t, 2, exec.CreditsConsumed)
	assert.Equal(t, 0, h.store.balance(owner))

	rep := h.report(t, exec)
	require.Len(t, rep.Phases, 3)
	last := rep.Phases[2]
	assert.Equal(t, schema.PhaseFailed, last.Phase.Status)
	assert.Zero(t, last.Phase.CreditsConsumed)
	require.Len(t, last.Logs, 1)
	assert.Equal(t, schema.LogError, last.Logs[0].Level)
	assert.Contains(t, last.Logs[0].Message, "insufficient credits")

	assert.False(t, hasCall(h.launcher.Calls(), "Content"), "executor must not run without credits")
	assert.Equal(t, 1, h.launcher.Closes())
}

// emitTask declares a Text output but only writes it when value is non-empty.
func emitTask(kind schema.TaskKind, value string) tasks.Definition {
	return tasks.Definition{
		Kind:         kind,
		Label:        "Emit",
		IsEntryPoint: true,
		Credits:      1,
		Outputs:      []tasks.ParamSpec{{Name: "Text", Type: schema.ParamString}},
		Executor: tasks.ExecutorFunc(func(_ context.Context, scope *environment.Scope) error {
			if value != "" {
				scope.SetOutput("Text", value)
			}
			return nil
		}),
	}
}

// echoTask records the Text input it receives.
func echoTask(kind schema.TaskKind, cost int, calls *atomic.Int32, got *string) tasks.Definition {
	return tasks.Definition{
		Kind:    kind,
		Label:   "Echo",
		Credits: cost,
		Inputs:  []tasks.ParamSpec{{Name: "Text", Type: schema.ParamString, Required: true}},
		Executor: tasks.ExecutorFunc(func(_ context.Context, scope *environment.Scope) error {
			calls.Add(1)
			v, err := scope.GetInput("Text")
			if err != nil {
				return err
			}
			*got = v
			return nil
		}),
	}
}

func TestRun_UnresolvedInputSkipsExecutorAndCharge(t *testing.T) {
	h := newHarness(t, 10)
	var calls atomic.Int32
	var got string
	h.register(t, emitTask("EMIT_NOTHING", ""))
	h.register(t, echoTask("ECHO", 5, &calls, &got))

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("src", "EMIT_NOTHING"), node("dst", "ECHO")},
		Edges: []schema.FlowEdge{edge("src", "Text", "dst", "Text")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeUnresolvedInput, exec.FailureReason)
	assert.Zero(t, calls.Load())
	assert.Equal(t, 9, h.store.balance(owner), "only the upstream phase is charged")

	rep := h.report(t, exec)
	require.Len(t, rep.Phases, 2)
	assert.Equal(t, schema.PhaseFailed, rep.Phases[1].Phase.Status)
	assert.Zero(t, rep.Phases[1].Phase.CreditsConsumed)
	assert.Contains(t, rep.Phases[1].Logs[0].Message, `input "Text" is not resolved`)
}

func TestRun_WiredInputFlowsDownstream(t *testing.T) {
	h := newHarness(t, 10)
	var calls atomic.Int32
	var got string
	h.register(t, emitTask("EMIT", "wired"))
	h.register(t, echoTask("ECHO", 1, &calls, &got))

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("src", "EMIT"), node("dst", "ECHO")},
		Edges: []schema.FlowEdge{edge("src", "Text", "dst", "Text")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, "wired", got)
}

func TestRun_ConstantWinsOverEdge(t *testing.T) {
	h := newHarness(t, 10)
	var calls atomic.Int32
	var got string
	h.register(t, emitTask("EMIT", "wired"))
	h.register(t, echoTask("ECHO", 1, &calls, &got))

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			node("src", "EMIT"),
			{ID: "dst", Type: "ECHO", Inputs: map[string]string{"Text": "constant"}},
		},
		Edges: []schema.FlowEdge{edge("src", "Text", "dst", "Text")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, "constant", got)
}

func TestRun_ExecutorPanicIsContained(t *testing.T) {
	h := newHarness(t, 10)
	h.register(t, tasks.Definition{
		Kind:    "PANIC",
		Credits: 1,
		Inputs:  []tasks.ParamSpec{{Name: "Web page", Type: schema.ParamBrowserInstance, Required: true}},
		Executor: tasks.ExecutorFunc(func(context.Context, *environment.Scope) error {
			panic("boom")
		}),
	})

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("launch", schema.TaskLaunchBrowser), node("p", "PANIC")},
		Edges: []schema.FlowEdge{pageEdge("launch", "p")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeExecutorFailure, exec.FailureReason)
	rep := h.report(t, exec)
	assert.Contains(t, logMessages(rep.Phases[1].Logs), "task panicked: boom")
	assert.Equal(t, 1, h.launcher.Closes())
}

func TestRun_PhaseTimeout(t *testing.T) {
	h := newHarness(t, 10, func(cfg *OrchestratorConfig) {
		cfg.Dispatch.PhaseTimeout = 20 * time.Millisecond
	})
	h.register(t, tasks.Definition{
		Kind:         "HANG",
		IsEntryPoint: true,
		Executor: tasks.ExecutorFunc(func(ctx context.Context, _ *environment.Scope) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})

	exec := h.run(t, schema.FlowDefinition{Nodes: []schema.FlowNode{node("h", "HANG")}})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeExecutorFailure, exec.FailureReason)
	rep := h.report(t, exec)
	require.Len(t, rep.Phases[0].Logs, 1)
	assert.Regexp(t, `timed out|deadline exceeded`, rep.Phases[0].Logs[0].Message)
}

func TestRun_DuplicateOutputFailsPhase(t *testing.T) {
	h := newHarness(t, 10)
	h.register(t, tasks.Definition{
		Kind:         "TWICE",
		IsEntryPoint: true,
		Outputs:      []tasks.ParamSpec{{Name: "Text", Type: schema.ParamString}},
		Executor: tasks.ExecutorFunc(func(_ context.Context, scope *environment.Scope) error {
			scope.SetOutput("Text", "a")
			scope.SetOutput("Text", "b")
			return nil
		}),
	})

	exec := h.run(t, schema.FlowDefinition{Nodes: []schema.FlowNode{node("t", "TWICE")}})

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	rep := h.report(t, exec)
	assert.Equal(t, "b", rep.Phases[0].Phase.Outputs["Text"], "last write wins")
	assert.Contains(t, rep.Phases[0].Logs[0].Message, "written more than once")
}

func TestRun_MissingRequiredInputIsLoggedNotEnforced(t *testing.T) {
	h := newHarness(t, 10)
	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("launch", schema.TaskLaunchBrowser), node("nav", schema.TaskNavigateURL)},
		Edges: []schema.FlowEdge{pageEdge("launch", "nav")},
	}
	exec := h.run(t, def)

	// The fake browser accepts an empty URL, so the phase goes through.
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.True(t, hasCall(h.launcher.Calls(), "Navigate"))
	rep := h.report(t, exec)
	assert.Equal(t, schema.LogError, rep.Phases[1].Logs[0].Level)
	assert.Contains(t, rep.Phases[1].Logs[0].Message, `input "URL" is required`)
}

func TestRun_StrictInputsRefusesBeforeCharging(t *testing.T) {
	h := newHarness(t, 10, func(cfg *OrchestratorConfig) {
		cfg.Dispatch.StrictInputs = true
	})
	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("launch", schema.TaskLaunchBrowser), node("nav", schema.TaskNavigateURL)},
		Edges: []schema.FlowEdge{pageEdge("launch", "nav")},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeMissingInput, exec.FailureReason)
	assert.Equal(t, 9, h.store.balance(owner))
	assert.False(t, hasCall(h.launcher.Calls(), "Navigate"))

	rep := h.report(t, exec)
	assert.Equal(t, []string{`input "URL" is required`}, logMessages(rep.Phases[1].Logs))
}

func TestRun_RelaunchClosesEveryBrowserOnce(t *testing.T) {
	h := newHarness(t, 10)
	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("first", schema.TaskLaunchBrowser), node("second", schema.TaskLaunchBrowser)},
	}
	exec := h.run(t, def)

	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, h.launcher.Launches())
	assert.Equal(t, 2, h.launcher.Closes())
	for _, b := range h.launcher.Browsers() {
		assert.True(t, b.Closed())
	}
}

func TestRun_CancelStopsAtPhaseBoundary(t *testing.T) {
	h := newHarness(t, 10)
	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, tasks.Definition{
		Kind:    "BLOCK",
		Credits: 1,
		Inputs:  []tasks.ParamSpec{{Name: "Web page", Type: schema.ParamBrowserInstance, Required: true}},
		Outputs: []tasks.ParamSpec{{Name: "Web page", Type: schema.ParamBrowserInstance}},
		Executor: tasks.ExecutorFunc(func(_ context.Context, scope *environment.Scope) error {
			close(started)
			<-release
			scope.SetOutput("Web page", tasks.PageHandle)
			return nil
		}),
	})

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{
			node("launch", schema.TaskLaunchBrowser),
			node("block", "BLOCK"),
			node("html", schema.TaskPageToHTML),
		},
		Edges: []schema.FlowEdge{pageEdge("launch", "block"), pageEdge("block", "html")},
	}
	wf := h.addWorkflow(t, def)

	type result struct {
		exec *store.Execution
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := h.orch.Run(context.Background(), RunRequest{WorkflowID: wf.ID, UserID: owner})
		done <- result{exec, err}
	}()

	<-started
	running := h.orch.Running()
	require.Len(t, running, 1)
	assert.True(t, schema.IsCode(h.orch.Cancel(running[0], "someone-else"), schema.ErrCodeNotFound))
	require.NoError(t, h.orch.Cancel(running[0], owner))
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, schema.ExecutionFailed, res.exec.Status)
	assert.Equal(t, schema.ErrCodeCancelled, res.exec.FailureReason)

	rep := h.report(t, res.exec)
	require.Len(t, rep.Phases, 2)
	assert.Equal(t, schema.PhaseCompleted, rep.Phases[1].Phase.Status, "the phase in flight finishes")
	assert.Equal(t, 1, h.launcher.Closes())
	assert.Empty(t, h.orch.Running())

	assert.True(t, schema.IsCode(h.orch.Cancel(res.exec.ID, owner), schema.ErrCodeNotFound))
}

func TestRun_CancelDuringLastPhase(t *testing.T) {
	h := newHarness(t, 10)
	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, tasks.Definition{
		Kind:    "BLOCK",
		Credits: 1,
		Inputs:  []tasks.ParamSpec{{Name: "Web page", Type: schema.ParamBrowserInstance, Required: true}},
		Executor: tasks.ExecutorFunc(func(_ context.Context, _ *environment.Scope) error {
			close(started)
			<-release
			return nil
		}),
	})

	def := schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("launch", schema.TaskLaunchBrowser), node("block", "BLOCK")},
		Edges: []schema.FlowEdge{pageEdge("launch", "block")},
	}
	wf := h.addWorkflow(t, def)

	done := make(chan *store.Execution, 1)
	go func() {
		exec, err := h.orch.Run(context.Background(), RunRequest{WorkflowID: wf.ID, UserID: owner})
		assert.NoError(t, err)
		done <- exec
	}()

	<-started
	running := h.orch.Running()
	require.Len(t, running, 1)
	require.NoError(t, h.orch.Cancel(running[0], owner))
	close(release)

	exec := <-done
	require.NotNil(t, exec)
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeCancelled, exec.FailureReason)
	assert.Equal(t, 2, exec.CreditsConsumed)

	rep := h.report(t, exec)
	require.Len(t, rep.Phases, 2)
	assert.Equal(t, schema.PhaseCompleted, rep.Phases[1].Phase.Status)
	assert.Equal(t, 1, h.launcher.Closes())
}

func TestRun_CallerContextCancelled(t *testing.T) {
	h := newHarness(t, 10)
	wf := h.addWorkflow(t, scrapeFlow())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := h.orch.Run(ctx, RunRequest{WorkflowID: wf.ID, UserID: owner})
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeCancelled, exec.FailureReason)
	assert.Empty(t, h.report(t, exec).Phases)
	assert.Zero(t, h.launcher.Launches())
	assert.Equal(t, 10, h.store.balance(owner))
}

func TestRun_RejectsBeforeCreatingExecution(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	cyclic := h.addWorkflow(t, schema.FlowDefinition{
		Nodes: []schema.FlowNode{node("a", schema.TaskClickElement), node("b", schema.TaskClickElement)},
		Edges: []schema.FlowEdge{pageEdge("a", "b"), pageEdge("b", "a")},
	})
	_, err := h.orch.Run(ctx, RunRequest{WorkflowID: cyclic.ID, UserID: owner})
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))

	unknown := h.addWorkflow(t, schema.FlowDefinition{Nodes: []schema.FlowNode{node("a", "TELEPORT")}})
	_, err = h.orch.Run(ctx, RunRequest{WorkflowID: unknown.ID, UserID: owner})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	ok := h.addWorkflow(t, scrapeFlow())
	_, err = h.orch.Run(ctx, RunRequest{WorkflowID: ok.ID, UserID: "intruder"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = h.orch.Run(ctx, RunRequest{WorkflowID: ok.ID})
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnauthorized))

	assert.Zero(t, h.store.executionCount())
	assert.Zero(t, h.launcher.Launches())
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	h := newHarness(t, 10)
	h.store.failCreatePhase = errors.New("disk full")
	wf := h.addWorkflow(t, scrapeFlow())

	exec, err := h.orch.Run(context.Background(), RunRequest{WorkflowID: wf.ID, UserID: owner})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
	require.NotNil(t, exec)
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, schema.ErrCodeStore, exec.FailureReason)
	assert.Zero(t, h.launcher.Launches())
}

func TestRun_ConcurrentExecutionsAreIsolated(t *testing.T) {
	h := newHarness(t, 100)
	wf := h.addWorkflow(t, scrapeFlow())

	var wg sync.WaitGroup
	results := make([]*store.Execution, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec, err := h.orch.Run(context.Background(), RunRequest{
				WorkflowID: wf.ID, UserID: owner, Trigger: schema.TriggerScheduled,
			})
			assert.NoError(t, err)
			results[i] = exec
		}()
	}
	wg.Wait()

	for _, exec := range results {
		require.NotNil(t, exec)
		assert.Equal(t, schema.ExecutionCompleted, exec.Status)
		assert.Equal(t, schema.TriggerScheduled, exec.Trigger)
	}
	assert.Equal(t, 85, h.store.balance(owner))
	assert.Equal(t, 5, h.launcher.Launches())
	assert.Equal(t, 5, h.launcher.Closes())
}

func TestStatus_OwnerScoped(t *testing.T) {
	h := newHarness(t, 10)
	exec := h.run(t, scrapeFlow())

	_, err := h.orch.Status(context.Background(), exec.ID, "intruder")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
