// Package environment holds the per-execution state shared by the phases of
// one workflow run: the browser, the active page, resolved inputs, produced
// outputs and the phase log collectors.
package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/pagepilot/internal/browser"
	"github.com/rendis/pagepilot/pkg/schema"
)

// CredentialResolver looks up a user's decrypted credential by name.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, userID, name string) (string, error)
}

// Options configures a new Environment.
type Options struct {
	UserID      string
	Launcher    browser.Launcher
	Credentials CredentialResolver
	Clock       func() time.Time
}

// Environment is owned by exactly one execution. All methods are safe for
// concurrent use, but the orchestrator only ever runs one phase at a time.
type Environment struct {
	mu          sync.Mutex
	userID      string
	launcher    browser.Launcher
	credentials CredentialResolver
	clock       func() time.Time

	browser browser.Browser
	page    browser.Page
	phases  map[int]*phaseIO

	closed   bool
	closeErr error
}

type phaseIO struct {
	inputs     map[string]string
	outputs    map[string]string
	writes     map[string]int
	violations []string
	logs       *LogCollector
}

// New creates an empty environment.
func New(opts Options) *Environment {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Environment{
		userID:      opts.UserID,
		launcher:    opts.Launcher,
		credentials: opts.Credentials,
		clock:       clock,
		phases:      make(map[int]*phaseIO),
	}
}

// phase returns the io record for seq, creating it. Caller holds e.mu.
func (e *Environment) phase(seq int) *phaseIO {
	p, ok := e.phases[seq]
	if !ok {
		p = &phaseIO{
			inputs:  make(map[string]string),
			outputs: make(map[string]string),
			writes:  make(map[string]int),
			logs:    newLogCollector(e.clock),
		}
		e.phases[seq] = p
	}
	return p
}

// SetInputs records the resolved inputs of a phase, replacing previous ones.
func (e *Environment) SetInputs(seq int, inputs map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.phase(seq)
	p.inputs = make(map[string]string, len(inputs))
	for k, v := range inputs {
		p.inputs[k] = v
	}
}

// GetInput returns a resolved input of a phase. It fails with MISSING_INPUT
// when the input was never resolved.
func (e *Environment) GetInput(seq int, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.phases[seq]
	if ok {
		if v, found := p.inputs[name]; found {
			return v, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeMissingInput, "input %q not resolved", name).WithPhase(seq)
}

// SetOutput stores an output value for a phase. Last write wins; writing the
// same name twice within one phase is recorded as a contract violation.
func (e *Environment) SetOutput(seq int, name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.phase(seq)
	p.writes[name]++
	if p.writes[name] == 2 {
		p.violations = append(p.violations, fmt.Sprintf("output %q written more than once", name))
	}
	p.outputs[name] = value
}

// Output returns a produced output of a phase.
func (e *Environment) Output(seq int, name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.phases[seq]
	if !ok {
		return "", false
	}
	v, ok := p.outputs[name]
	return v, ok
}

// Outputs returns a copy of the outputs produced by a phase.
func (e *Environment) Outputs(seq int) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMap(e.phase(seq).outputs)
}

// Violations returns executor contract violations recorded for a phase.
func (e *Environment) Violations(seq int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.phase(seq)
	out := make([]string, len(p.violations))
	copy(out, p.violations)
	return out
}

// Log returns the log collector of a phase.
func (e *Environment) Log(seq int) *LogCollector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase(seq).logs
}

// Launcher returns the browser launcher available to the launch task.
func (e *Environment) Launcher() browser.Launcher {
	return e.launcher
}

// UserID returns the owner of the execution.
func (e *Environment) UserID() string {
	return e.userID
}

// Browser returns the current browser handle, or nil.
func (e *Environment) Browser() browser.Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.browser
}

// SetBrowser installs b as the execution's browser. An existing, different
// handle is closed first and the page bound to it is dropped. Setting a
// browser on a closed environment closes b and fails.
func (e *Environment) SetBrowser(b browser.Browser) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		if b != nil {
			_ = b.Close()
		}
		return errors.New("environment already torn down")
	}
	if e.browser == b {
		return nil
	}

	var closeErr error
	if e.browser != nil {
		closeErr = e.browser.Close()
		e.page = nil
	}
	e.browser = b
	if closeErr != nil {
		return fmt.Errorf("close previous browser: %w", closeErr)
	}
	return nil
}

// Page returns the active page, or nil.
func (e *Environment) Page() browser.Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// SetPage installs the active page.
func (e *Environment) SetPage(p browser.Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = p
}

// ResolveCredential returns the decrypted credential of the execution owner.
func (e *Environment) ResolveCredential(ctx context.Context, name string) (string, error) {
	if e.credentials == nil {
		return "", schema.NewError(schema.ErrCodeVault, "no credential store configured")
	}
	return e.credentials.ResolveCredential(ctx, e.userID, name)
}

// Close tears the environment down, closing the browser if one was ever set.
// Only the first call has an effect; later calls return the first result.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.closeErr
	}
	e.closed = true
	if e.browser != nil {
		e.closeErr = e.browser.Close()
	}
	e.browser = nil
	e.page = nil
	return e.closeErr
}

// Closed reports whether Close has been called.
func (e *Environment) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Scope returns the view of the environment bound to one phase.
func (e *Environment) Scope(seq int) *Scope {
	return &Scope{env: e, seq: seq}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
