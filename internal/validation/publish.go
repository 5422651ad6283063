package validation

import (
	"context"
	"log/slog"

	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Publisher moves workflows between draft and published. Publishing
// validates the graph and stores its credit cost.
type Publisher struct {
	store     store.WorkflowStore
	validator *FlowValidator
	tasks     TaskLookup
	logger    *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(s store.WorkflowStore, validator *FlowValidator, lookup TaskLookup, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: s, validator: validator, tasks: lookup, logger: logger}
}

// Publish validates the workflow, computes its credit cost and marks it
// published. Publishing an already published workflow is a CONFLICT.
func (p *Publisher) Publish(ctx context.Context, workflowID, owner string) (*store.Workflow, error) {
	wf, err := p.store.GetWorkflow(ctx, workflowID, owner)
	if err != nil {
		return nil, err
	}
	if wf.Status == schema.WorkflowPublished {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is already published", workflowID)
	}

	if err := p.validator.ValidateDefinition(&wf.Definition); err != nil {
		return nil, err
	}
	cost, err := credits.EstimateCost(wf.Definition, p.tasks)
	if err != nil {
		return nil, err
	}

	status := schema.WorkflowPublished
	if err := p.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{
		Status:      &status,
		CreditsCost: &cost,
	}); err != nil {
		return nil, err
	}
	wf.Status = status
	wf.CreditsCost = cost

	p.logger.InfoContext(ctx, "workflow published",
		slog.String("workflow_id", workflowID),
		slog.Int("credits_cost", cost),
	)
	return wf, nil
}

// Unpublish returns a published workflow to draft. Its schedule is kept but
// drafts are never picked up by the trigger loop.
func (p *Publisher) Unpublish(ctx context.Context, workflowID, owner string) error {
	wf, err := p.store.GetWorkflow(ctx, workflowID, owner)
	if err != nil {
		return err
	}
	if wf.Status != schema.WorkflowPublished {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is not published", workflowID)
	}
	status := schema.WorkflowDraft
	return p.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{Status: &status})
}
