package environment

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rendis/pagepilot/internal/browser"
)

// Scope is the environment as seen by a single phase. Executors receive it
// for the duration of one call; after Release, writes through it are ignored.
type Scope struct {
	env      *Environment
	seq      int
	released atomic.Bool
}

// Phase returns the phase sequence number the scope is bound to.
func (s *Scope) Phase() int { return s.seq }

// GetInput returns the named resolved input of this phase.
func (s *Scope) GetInput(name string) (string, error) {
	return s.env.GetInput(s.seq, name)
}

// SetOutput stores an output of this phase.
func (s *Scope) SetOutput(name, value string) {
	if s.released.Load() {
		return
	}
	s.env.SetOutput(s.seq, name, value)
}

// Violations returns the output contract violations of this phase.
func (s *Scope) Violations() []string {
	return s.env.Violations(s.seq)
}

// Log returns the log collector of this phase.
func (s *Scope) Log() *LogCollector {
	return s.env.Log(s.seq)
}

// Launcher returns the browser launcher.
func (s *Scope) Launcher() browser.Launcher {
	return s.env.Launcher()
}

// Browser returns the execution's browser, or nil.
func (s *Scope) Browser() browser.Browser {
	return s.env.Browser()
}

// SetBrowser replaces the execution's browser, closing any previous one.
func (s *Scope) SetBrowser(b browser.Browser) error {
	if s.released.Load() {
		if b != nil {
			_ = b.Close()
		}
		return errors.New("scope released")
	}
	return s.env.SetBrowser(b)
}

// Page returns the active page, or nil.
func (s *Scope) Page() browser.Page {
	return s.env.Page()
}

// SetPage installs the active page.
func (s *Scope) SetPage(p browser.Page) {
	if s.released.Load() {
		return
	}
	s.env.SetPage(p)
}

// Credential resolves a credential of the execution owner by name.
func (s *Scope) Credential(ctx context.Context, name string) (string, error) {
	return s.env.ResolveCredential(ctx, name)
}

// Release ends the scope's validity.
func (s *Scope) Release() {
	s.released.Store(true)
}
