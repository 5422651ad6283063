// Package trigger starts scheduled workflow runs. A Loop polls the store for
// published workflows whose next run is due, runs each through the
// orchestrator with trigger "scheduled" and then stores the next activation.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/scheduler"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/pkg/schema"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultBatchSize    = 50
	DefaultConcurrency  = 4
)

// Runner starts executions. Satisfied by *engine.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (*store.Execution, error)
}

// Config holds configuration for the Loop.
type Config struct {
	PollInterval time.Duration // zero = DefaultPollInterval
	BatchSize    int           // due workflows fetched per tick
	Concurrency  int           // executions running at once
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Loop polls for due workflows and runs them.
type Loop struct {
	store  store.WorkflowStore
	runner Runner
	sched  *scheduler.Scheduler
	pool   *Pool
	cfg    Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Loop.
func New(s store.WorkflowStore, runner Runner, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		store:  s,
		runner: runner,
		sched:  scheduler.New(s, cfg.Logger),
		pool:   NewPool(cfg.Concurrency),
		cfg:    cfg,
	}
}

// Start launches the polling loop. The first tick runs immediately, which
// also picks up runs missed while nothing was polling.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return fmt.Errorf("trigger loop already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.loop(loopCtx, l.done)
	l.cfg.Logger.Info("trigger loop started", slog.Duration("poll_interval", l.cfg.PollInterval))
	return nil
}

func (l *Loop) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Stop ends the polling loop and waits for running executions to finish.
// Executions already started are not cancelled. The loop may be started
// again.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return nil
	}

	l.cancel()
	<-l.done
	l.pool.Wait()
	l.cancel = nil
	l.done = nil

	l.cfg.Logger.Info("trigger loop stopped")
	return nil
}

// Close stops the loop for good: later ticks start nothing.
func (l *Loop) Close() error {
	err := l.Stop()
	l.pool.Shutdown()
	return err
}

// Tick starts every due workflow that is not already running and returns
// how many were started.
func (l *Loop) Tick(ctx context.Context) int {
	now := l.cfg.Clock().UTC()
	due, err := l.store.ListDueWorkflows(ctx, now, l.cfg.BatchSize)
	if err != nil {
		l.cfg.Logger.ErrorContext(ctx, "failed to list due workflows", slog.String("error", err.Error()))
		return 0
	}

	started := 0
	for _, wf := range due {
		err := l.pool.Submit(ctx, wf.ID, func(ctx context.Context) error {
			return l.fire(ctx, wf)
		})
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrInFlight):
			l.cfg.Logger.DebugContext(ctx, "scheduled run still in flight", slog.String("workflow_id", wf.ID))
		default:
			l.cfg.Logger.WarnContext(ctx, "scheduled run not started",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()),
			)
			return started
		}
	}
	return started
}

// Wait blocks until every execution started by Tick has finished.
func (l *Loop) Wait() {
	l.pool.Wait()
}

// Metrics returns a snapshot of the run pool metrics.
func (l *Loop) Metrics() PoolMetrics {
	return l.pool.Metrics()
}

// fire runs one due workflow and advances its schedule whatever the outcome.
// The workflow is read again first: a copy listed before an earlier run
// advanced the schedule is no longer due.
func (l *Loop) fire(ctx context.Context, listed *store.Workflow) error {
	log := l.cfg.Logger.With(slog.String("workflow_id", listed.ID), slog.String("user_id", listed.OwnerID))

	wf, err := l.store.GetWorkflow(ctx, listed.ID, listed.OwnerID)
	if err != nil {
		log.WarnContext(ctx, "scheduled workflow not readable", slog.String("error", err.Error()))
		return err
	}
	if wf.NextRunAt == nil || wf.NextRunAt.After(l.cfg.Clock().UTC()) {
		log.DebugContext(ctx, "scheduled run no longer due")
		return nil
	}

	// Runs outlive Stop; only the poll loop is cancelled.
	runCtx := context.WithoutCancel(ctx)
	exec, runErr := l.runner.Run(runCtx, engine.RunRequest{
		WorkflowID: wf.ID,
		UserID:     wf.OwnerID,
		Trigger:    schema.TriggerScheduled,
	})
	switch {
	case runErr != nil:
		log.ErrorContext(ctx, "scheduled run rejected", slog.String("error", runErr.Error()))
	case exec.Status == schema.ExecutionFailed:
		log.WarnContext(ctx, "scheduled run failed",
			slog.String("execution_id", exec.ID),
			slog.String("reason", exec.FailureReason),
		)
	default:
		log.InfoContext(ctx, "scheduled run completed", slog.String("execution_id", exec.ID))
	}

	// Activations that passed while the run was going are skipped.
	next, err := l.sched.Advance(runCtx, wf, l.cfg.Clock())
	if err != nil {
		log.ErrorContext(ctx, "failed to advance schedule", slog.String("error", err.Error()))
		return errors.Join(runErr, err)
	}
	log.DebugContext(ctx, "next scheduled run", slog.Time("next_run_at", next))
	return runErr
}
