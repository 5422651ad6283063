package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all pagepilot configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string        `mapstructure:"db_path"`
	LogLevel        string        `mapstructure:"log_level"`
	UserID          string        `mapstructure:"user_id"`
	Headless        bool          `mapstructure:"headless"`
	ChromePath      string        `mapstructure:"chrome_path"`
	PhaseTimeout    time.Duration `mapstructure:"phase_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	StrictInputs    bool          `mapstructure:"strict_inputs"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	VaultPassphrase string        `mapstructure:"vault_passphrase"`
	VaultSalt       string        `mapstructure:"vault_salt"`
}

func pagepilotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pagepilot"
	}
	return filepath.Join(home, ".pagepilot")
}

func settingsPath() string {
	return filepath.Join(pagepilotDir(), "settings.json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(pagepilotDir(), "pagepilot.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("user_id", "")
	v.SetDefault("headless", true)
	v.SetDefault("chrome_path", "")
	v.SetDefault("phase_timeout", "60s")
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("concurrency", 4)
	v.SetDefault("strict_inputs", false)
	v.SetDefault("listen_addr", "127.0.0.1:7474")
	v.SetDefault("vault_passphrase", "")
	v.SetDefault("vault_salt", "")
}

// loadConfig layers defaults, the JSON settings file at path (ignored if
// missing) and PAGEPILOT_* environment variables.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	v.SetEnvPrefix("PAGEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.PhaseTimeout <= 0 {
		return Config{}, fmt.Errorf("phase_timeout must be positive, got %s", cfg.PhaseTimeout)
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}
