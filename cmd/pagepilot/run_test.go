package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pagepilot/internal/streaming"
)

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "> execution e1 started (3 phases)", formatEvent(streaming.StreamEvent{
		ExecutionID: "e1",
		EventType:   streaming.EventExecutionStarted,
		Payload:     map[string]any{"phases": 3},
	}))
	assert.Equal(t, "  2. NAVIGATE_URL running", formatEvent(streaming.StreamEvent{
		Phase:     2,
		EventType: streaming.EventPhaseStarted,
		Payload:   map[string]any{"task": "NAVIGATE_URL"},
	}))
	assert.Equal(t, "  2. NAVIGATE_URL failed (0 credits) INSUFFICIENT_CREDITS", formatEvent(streaming.StreamEvent{
		Phase:     2,
		EventType: streaming.EventPhaseFinished,
		Payload:   map[string]any{"task": "NAVIGATE_URL", "status": "failed", "credits": 0, "failure": "INSUFFICIENT_CREDITS"},
	}))
	assert.Equal(t, "  1. LAUNCH_BROWSER completed (1 credits)", formatEvent(streaming.StreamEvent{
		Phase:     1,
		EventType: streaming.EventPhaseFinished,
		Payload:   map[string]any{"task": "LAUNCH_BROWSER", "status": "completed", "credits": 1, "failure": ""},
	}))
	assert.Equal(t, "custom", formatEvent(streaming.StreamEvent{EventType: "custom"}))
}

func TestFollowProgressStops(t *testing.T) {
	hub := streaming.NewMemoryHub()
	stop, err := followProgress(context.Background(), hub, "wf-1")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), streaming.StreamEvent{
		WorkflowID: "wf-1",
		EventType:  streaming.EventExecutionFinished,
		Payload:    map[string]any{"status": "completed"},
	}))
	stop()

	_, err = followProgress(canceledContext(), hub, "wf-1")
	assert.Error(t, err)
}

func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
