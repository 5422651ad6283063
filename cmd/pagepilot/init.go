package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var initOpts struct {
	dbPath       string
	logLevel     string
	userID       string
	chromePath   string
	headless     bool
	phaseTimeout time.Duration
	pollInterval time.Duration
	strictInputs bool
}

// settingsFile is what init persists. The vault passphrase is never
// written to disk; it is read from PAGEPILOT_VAULT_PASSPHRASE.
type settingsFile struct {
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	UserID       string `json:"user_id,omitempty"`
	Headless     bool   `json:"headless"`
	ChromePath   string `json:"chrome_path,omitempty"`
	PhaseTimeout string `json:"phase_timeout"`
	PollInterval string `json:"poll_interval"`
	StrictInputs bool   `json:"strict_inputs"`
	VaultSalt    string `json:"vault_salt,omitempty"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the settings file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath
		if path == "" {
			path = settingsPath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}

		dbPath := initOpts.dbPath
		if dbPath == "" {
			dbPath = filepath.Join(filepath.Dir(path), "pagepilot.db")
		}
		salt, err := newSalt()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(settingsFile{
			DBPath:       dbPath,
			LogLevel:     initOpts.logLevel,
			UserID:       initOpts.userID,
			Headless:     initOpts.headless,
			ChromePath:   initOpts.chromePath,
			PhaseTimeout: initOpts.phaseTimeout.String(),
			PollInterval: initOpts.pollInterval.String(),
			StrictInputs: initOpts.strictInputs,
			VaultSalt:    salt,
		}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
		return nil
	},
}

func init() {
	f := initCmd.Flags()
	f.StringVar(&initOpts.dbPath, "db-path", "", "database path (default: next to the settings file)")
	f.StringVar(&initOpts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&initOpts.userID, "user-id", "", "default user for commands")
	f.StringVar(&initOpts.chromePath, "chrome-path", "", "Chrome executable (default: auto-detect)")
	f.BoolVar(&initOpts.headless, "headless", true, "run the browser headless")
	f.DurationVar(&initOpts.phaseTimeout, "phase-timeout", 60*time.Second, "maximum duration of one task")
	f.DurationVar(&initOpts.pollInterval, "poll-interval", 30*time.Second, "trigger loop poll interval")
	f.BoolVar(&initOpts.strictInputs, "strict-inputs", false, "refuse to run tasks with missing required inputs")
}
