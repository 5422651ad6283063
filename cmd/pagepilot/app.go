package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/pagepilot/internal/browser"
	"github.com/rendis/pagepilot/internal/credits"
	"github.com/rendis/pagepilot/internal/engine"
	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/internal/logging"
	"github.com/rendis/pagepilot/internal/scheduler"
	"github.com/rendis/pagepilot/internal/secrets"
	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/streaming"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/internal/validation"
	"github.com/rendis/pagepilot/pkg/schema"
)

// app is the wired engine behind every command.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	registry  *tasks.Registry
	ledger    *credits.Ledger
	vault     *secrets.AESVault // nil when no passphrase is configured
	events    *streaming.MemoryHub
	orch      *engine.Orchestrator
	sched     *scheduler.Scheduler
	validator *validation.FlowValidator
	publisher *validation.Publisher
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := logging.NewLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: s}
	a.registry = tasks.NewBuiltinRegistry(tasks.BuiltinConfig{})
	a.ledger = credits.NewLedger(s, logger)
	a.sched = scheduler.New(s, logger)

	if a.validator, err = validation.NewFlowValidator(a.registry); err != nil {
		_ = s.Close()
		return nil, err
	}
	a.publisher = validation.NewPublisher(s, a.validator, a.registry, logger)

	var resolver environment.CredentialResolver
	if cfg.VaultPassphrase != "" {
		a.vault, err = secrets.NewAESVault(s, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		resolver = a.vault
	}

	a.events = streaming.NewMemoryHub()
	a.orch = engine.NewOrchestrator(s, a.registry, a.ledger, engine.OrchestratorConfig{
		Launcher: browser.NewChromeLauncher(browser.ChromeConfig{
			Headless: cfg.Headless,
			ExecPath: cfg.ChromePath,
		}),
		Credentials: resolver,
		Events:      a.events,
		Dispatch: engine.DispatchConfig{
			PhaseTimeout: cfg.PhaseTimeout,
			StrictInputs: cfg.StrictInputs,
		},
		Logger: logger,
	})
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}

// user returns the caller identity every command acts on behalf of.
func (a *app) user() (string, error) {
	if a.cfg.UserID == "" {
		return "", schema.NewError(schema.ErrCodeUnauthorized, "no user configured: pass --user or set PAGEPILOT_USER_ID")
	}
	return a.cfg.UserID, nil
}

func (a *app) requireVault() (*secrets.AESVault, error) {
	if a.vault == nil {
		return nil, schema.NewError(schema.ErrCodeVault, "credentials need vault_passphrase and vault_salt to be configured")
	}
	return a.vault, nil
}
