package store

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine.
type Store interface {
	WorkflowStore
	ExecutionStore
	BalanceStore
	SecretStore

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// WorkflowStore persists workflow definitions and their schedule fields.
// Reads scoped by owner fail with NOT_FOUND for workflows of other users.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id, ownerID string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id, ownerID string) error
	ListDueWorkflows(ctx context.Context, now time.Time, limit int) ([]*Workflow, error)
}

// ExecutionStore persists executions, their phases and phase logs.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id, ownerID string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	CreatePhase(ctx context.Context, phase *Phase) error
	UpdatePhase(ctx context.Context, id string, update PhaseUpdate) error
	ListPhases(ctx context.Context, executionID string) ([]*Phase, error)

	AppendLogs(ctx context.Context, phaseID string, entries []*LogEntry) error
	ListLogs(ctx context.Context, phaseID string) ([]*LogEntry, error)
}

// BalanceStore holds per-user credit balances. DecrementCredits is a single
// conditional update: it succeeds only if the balance covers amount.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	DecrementCredits(ctx context.Context, userID string, amount int) (bool, error)
	AddCredits(ctx context.Context, userID string, amount int) (int, error)
}

// SecretStore holds encrypted secret blobs by key.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
