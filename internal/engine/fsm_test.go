package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/pkg/schema"
)

func TestExecutionFSM_HappyPath(t *testing.T) {
	fsm := NewExecutionFSM("exec-1")
	assert.Equal(t, schema.ExecutionPending, fsm.Status())

	require.NoError(t, fsm.Transition(schema.ExecutionRunning))
	require.NoError(t, fsm.Transition(schema.ExecutionCompleted))
	assert.Equal(t, schema.ExecutionCompleted, fsm.Status())
}

func TestExecutionFSM_TerminalIsFinal(t *testing.T) {
	fsm := NewExecutionFSM("exec-1")
	require.NoError(t, fsm.Transition(schema.ExecutionRunning))
	require.NoError(t, fsm.Transition(schema.ExecutionFailed))

	for _, to := range []schema.ExecutionStatus{schema.ExecutionPending, schema.ExecutionRunning, schema.ExecutionCompleted} {
		err := fsm.Transition(to)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	}
	assert.Equal(t, schema.ExecutionFailed, fsm.Status())
}

func TestExecutionFSM_PendingCannotComplete(t *testing.T) {
	fsm := NewExecutionFSM("exec-1")
	err := fsm.Transition(schema.ExecutionCompleted)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	assert.Contains(t, err.Error(), "pending -> completed")

	// A run that never starts may still fail.
	require.NoError(t, fsm.Transition(schema.ExecutionFailed))
}

func TestPhaseFSM(t *testing.T) {
	fsm := NewPhaseFSM(3)
	require.NoError(t, fsm.Transition(schema.PhaseRunning))

	err := fsm.Transition(schema.PhasePending)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, engErr.Code)
	assert.Equal(t, 3, engErr.Phase)

	require.NoError(t, fsm.Transition(schema.PhaseCompleted))
	assert.Error(t, fsm.Transition(schema.PhaseFailed))
	assert.Equal(t, schema.PhaseCompleted, fsm.Status())
}

func TestTransitionTables_TerminalStatesHaveNoExits(t *testing.T) {
	for from, to := range ValidExecutionTransitions {
		if from.Terminal() {
			assert.Empty(t, to, "execution status %s", from)
		}
	}
	for from, to := range ValidPhaseTransitions {
		if from.Terminal() {
			assert.Empty(t, to, "phase status %s", from)
		}
	}
}
