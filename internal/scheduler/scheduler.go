package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

// parser accepts standard 5-field expressions, an optional leading seconds
// field and @-descriptors such as @daily or @every 1h.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ComputeNextRun returns the first activation of expr strictly after now, in UTC.
func ComputeNextRun(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, schema.NewError(schema.ErrCodeInvalidCron, "cron expression is empty")
	}
	// Schedules are UTC only.
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidCron, "cron expression %q: time zones are not supported", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidCron, "parse cron expression %q", expr).WithCause(err)
	}
	next := sched.Next(now.UTC())
	if next.IsZero() {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidCron, "cron expression %q never fires", expr)
	}
	return next.UTC(), nil
}

// Scheduler persists cron schedules on workflows. It has no timer of its
// own; due workflows are picked up by the trigger loop.
type Scheduler struct {
	store  store.WorkflowStore
	logger *slog.Logger
}

// New creates a Scheduler.
func New(s store.WorkflowStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, logger: logger}
}

// Schedule validates expr, computes the next run after now and stores both
// on the workflow. The workflow must belong to owner.
func (s *Scheduler) Schedule(ctx context.Context, workflowID, owner, expr string, now time.Time) (time.Time, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID, owner); err != nil {
		return time.Time{}, err
	}
	next, err := ComputeNextRun(expr, now)
	if err != nil {
		return time.Time{}, err
	}
	expr = strings.TrimSpace(expr)
	if err := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{
		CronExpression: &expr,
		NextRunAt:      &next,
	}); err != nil {
		return time.Time{}, err
	}
	s.logger.InfoContext(ctx, "workflow scheduled",
		slog.String("workflow_id", workflowID),
		slog.String("cron", expr),
		slog.Time("next_run_at", next),
	)
	return next, nil
}

// Unschedule clears the cron expression and next run of the workflow.
func (s *Scheduler) Unschedule(ctx context.Context, workflowID, owner string) error {
	if _, err := s.store.GetWorkflow(ctx, workflowID, owner); err != nil {
		return err
	}
	if err := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{ClearSchedule: true}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "workflow unscheduled", slog.String("workflow_id", workflowID))
	return nil
}

// Advance stores the next run of a workflow after one of its runs started
// at ranAt. An expression that no longer parses clears the schedule.
func (s *Scheduler) Advance(ctx context.Context, wf *store.Workflow, ranAt time.Time) (time.Time, error) {
	next, err := ComputeNextRun(wf.CronExpression, ranAt)
	if err != nil {
		s.logger.WarnContext(ctx, "clearing invalid schedule",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
		if clearErr := s.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{ClearSchedule: true}); clearErr != nil {
			return time.Time{}, clearErr
		}
		return time.Time{}, err
	}
	if err := s.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{NextRunAt: &next}); err != nil {
		return time.Time{}, err
	}
	return next, nil
}
