package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/tasks"
)

// DefaultPhaseTimeout bounds a single executor call.
const DefaultPhaseTimeout = 60 * time.Second

// DispatchConfig holds configuration for the Dispatcher.
type DispatchConfig struct {
	PhaseTimeout time.Duration // zero = DefaultPhaseTimeout
	StrictInputs bool          // refuse to invoke an executor whose required inputs are missing
	Logger       *slog.Logger
}

// Dispatcher invokes the executor of one task definition for one phase.
// Executor failures never escape Run: errors, panics, timeouts and output
// contract violations are written to the phase log and reported as false.
type Dispatcher struct {
	timeout time.Duration
	strict  bool
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatchConfig) *Dispatcher {
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = DefaultPhaseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{timeout: cfg.PhaseTimeout, strict: cfg.StrictInputs, logger: cfg.Logger}
}

// Ready reports whether the executor of def may be invoked. Without
// StrictInputs it always is, and executors log missing required inputs
// themselves; with it every missing required input is logged and the call
// is refused.
func (d *Dispatcher) Ready(def *tasks.Definition, scope *environment.Scope) bool {
	if !d.strict {
		return true
	}
	ready := true
	for _, name := range def.RequiredInputs() {
		if _, err := scope.GetInput(name); err != nil {
			scope.Log().Errorf("input %q is required", name)
			ready = false
		}
	}
	return ready
}

// Run executes def against scope and reports whether the phase succeeded.
// The scope is released when Run returns, including when the executor is
// abandoned after a timeout.
func (d *Dispatcher) Run(ctx context.Context, def *tasks.Definition, scope *environment.Scope) bool {
	defer scope.Release()
	log := scope.Log()

	if def.Executor == nil {
		log.Errorf("task %s has no executor", def.Kind)
		return false
	}

	// Cancellation of the caller is observed between phases, not inside one.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(ctx, "executor panic",
					"task", string(def.Kind), "phase", scope.Phase(), "panic", r, "stack", string(debug.Stack()))
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- def.Executor.Execute(runCtx, scope)
	}()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = fmt.Errorf("task timed out after %s", d.timeout)
	}

	if err != nil {
		log.Error(err.Error())
		return false
	}

	if violations := scope.Violations(); len(violations) > 0 {
		for _, v := range violations {
			log.Error(v)
		}
		return false
	}
	return true
}
