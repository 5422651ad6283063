// Package streaming fans out execution progress events to live subscribers.
package streaming

import "context"

// Event types published by the orchestrator.
const (
	EventExecutionStarted  = "execution.started"
	EventExecutionFinished = "execution.finished"
	EventPhaseStarted      = "phase.started"
	EventPhaseFinished     = "phase.finished"
)

// StreamEvent is a real-time event emitted during an execution.
type StreamEvent struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Phase       int            `json:"phase,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
