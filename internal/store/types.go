package store

import (
	"time"

	"github.com/rendis/pagepilot/pkg/schema"
)

// Workflow is the persisted representation of a workflow definition.
type Workflow struct {
	ID             string                 `json:"id"`
	OwnerID        string                 `json:"owner_id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Definition     schema.FlowDefinition  `json:"definition"`
	Status         schema.WorkflowStatus  `json:"status"`
	CreditsCost    int                    `json:"credits_cost"`
	CronExpression string                 `json:"cron_expression,omitempty"`
	NextRunAt      *time.Time             `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time             `json:"last_run_at,omitempty"`
	LastRunID      string                 `json:"last_run_id,omitempty"`
	LastRunStatus  schema.ExecutionStatus `json:"last_run_status,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Execution is one run of a workflow. Definition is the graph snapshot the
// run was planned from.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	OwnerID         string                 `json:"owner_id"`
	Trigger         schema.TriggerKind     `json:"trigger"`
	Status          schema.ExecutionStatus `json:"status"`
	Definition      schema.FlowDefinition  `json:"definition"`
	CreditsConsumed int                    `json:"credits_consumed"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// Phase is one task instance within an execution.
type Phase struct {
	ID              string              `json:"id"`
	ExecutionID     string              `json:"execution_id"`
	Sequence        int                 `json:"sequence"`
	NodeID          string              `json:"node_id"`
	Kind            schema.TaskKind     `json:"kind"`
	Label           string              `json:"label,omitempty"`
	Status          schema.PhaseStatus  `json:"status"`
	Inputs          map[string]string   `json:"inputs,omitempty"`
	Outputs         map[string]string   `json:"outputs,omitempty"`
	CreditsConsumed int                 `json:"credits_consumed"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// LogEntry is an append-only phase log row.
type LogEntry struct {
	ID        int64           `json:"id"`
	PhaseID   string          `json:"phase_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     schema.LogLevel `json:"level"`
	Message   string          `json:"message"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	OwnerID   string                 `json:"owner_id,omitempty"`
	Status    *schema.WorkflowStatus `json:"status,omitempty"`
	Scheduled bool                   `json:"scheduled,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow. ClearSchedule empties
// the cron expression and next run, and wins over CronExpression/NextRunAt.
type WorkflowUpdate struct {
	Name           *string                 `json:"name,omitempty"`
	Description    *string                 `json:"description,omitempty"`
	Definition     *schema.FlowDefinition  `json:"definition,omitempty"`
	Status         *schema.WorkflowStatus  `json:"status,omitempty"`
	CreditsCost    *int                    `json:"credits_cost,omitempty"`
	CronExpression *string                 `json:"cron_expression,omitempty"`
	NextRunAt      *time.Time              `json:"next_run_at,omitempty"`
	ClearSchedule  bool                    `json:"clear_schedule,omitempty"`
	LastRunAt      *time.Time              `json:"last_run_at,omitempty"`
	LastRunID      *string                 `json:"last_run_id,omitempty"`
	LastRunStatus  *schema.ExecutionStatus `json:"last_run_status,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status          *schema.ExecutionStatus `json:"status,omitempty"`
	CreditsConsumed *int                    `json:"credits_consumed,omitempty"`
	FailureReason   *string                 `json:"failure_reason,omitempty"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	OwnerID    string                  `json:"owner_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

// PhaseUpdate specifies mutable fields of a phase.
type PhaseUpdate struct {
	Status          *schema.PhaseStatus `json:"status,omitempty"`
	Inputs          map[string]string   `json:"inputs,omitempty"`
	Outputs         map[string]string   `json:"outputs,omitempty"`
	CreditsConsumed *int                `json:"credits_consumed,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}
