package engine

import (
	"slices"
	"sync"

	"github.com/rendis/pagepilot/pkg/schema"
)

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending:   {schema.ExecutionRunning, schema.ExecutionFailed},
	schema.ExecutionRunning:   {schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}

// ValidPhaseTransitions defines the allowed state transitions for phases.
var ValidPhaseTransitions = map[schema.PhaseStatus][]schema.PhaseStatus{
	schema.PhasePending:   {schema.PhaseRunning, schema.PhaseFailed},
	schema.PhaseRunning:   {schema.PhaseCompleted, schema.PhaseFailed},
	schema.PhaseCompleted: {},
	schema.PhaseFailed:    {},
}

// --- Execution FSM ---

// ExecutionFSM tracks the status of one execution and rejects transitions
// not present in ValidExecutionTransitions. The caller persists the result.
type ExecutionFSM struct {
	mu     sync.Mutex
	id     string
	status schema.ExecutionStatus
}

// NewExecutionFSM starts an execution FSM in the pending state.
func NewExecutionFSM(executionID string) *ExecutionFSM {
	return &ExecutionFSM{id: executionID, status: schema.ExecutionPending}
}

// Status returns the current status.
func (f *ExecutionFSM) Status() schema.ExecutionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Transition moves the execution to status to.
func (f *ExecutionFSM) Transition(to schema.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(ValidExecutionTransitions[f.status], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", f.status, to).
			WithDetails(map[string]any{"execution_id": f.id, "from": string(f.status), "to": string(to)})
	}
	f.status = to
	return nil
}

// --- Phase FSM ---

// PhaseFSM tracks the status of one phase.
type PhaseFSM struct {
	mu     sync.Mutex
	seq    int
	status schema.PhaseStatus
}

// NewPhaseFSM starts a phase FSM in the pending state.
func NewPhaseFSM(seq int) *PhaseFSM {
	return &PhaseFSM{seq: seq, status: schema.PhasePending}
}

// Status returns the current status.
func (f *PhaseFSM) Status() schema.PhaseStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Transition moves the phase to status to.
func (f *PhaseFSM) Transition(to schema.PhaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(ValidPhaseTransitions[f.status], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", f.status, to).
			WithPhase(f.seq).
			WithDetails(map[string]any{"from": string(f.status), "to": string(to)})
	}
	f.status = to
	return nil
}
