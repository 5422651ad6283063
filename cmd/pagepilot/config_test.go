package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 60*time.Second, cfg.PhaseTimeout)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "127.0.0.1:7474", cfg.ListenAddr)
	assert.False(t, cfg.StrictInputs)
	assert.Empty(t, cfg.VaultPassphrase)
	assert.Equal(t, "pagepilot.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "db_path": "/tmp/pp.db",
  "log_level": "debug",
  "user_id": "user-1",
  "headless": false,
  "phase_timeout": "5s",
  "strict_inputs": true
}`), 0o600))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pp.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "user-1", cfg.UserID)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 5*time.Second, cfg.PhaseTimeout)
	assert.True(t, cfg.StrictInputs)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user_id": "from-file", "concurrency": 2}`), 0o600))

	t.Setenv("PAGEPILOT_USER_ID", "from-env")
	t.Setenv("PAGEPILOT_POLL_INTERVAL", "1m")
	t.Setenv("PAGEPILOT_VAULT_PASSPHRASE", "hunter2")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.UserID)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, "hunter2", cfg.VaultPassphrase)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{not json`), 0o600))
	_, err := loadConfig(viper.New(), broken)
	assert.Error(t, err)

	t.Setenv("PAGEPILOT_PHASE_TIMEOUT", "0s")
	_, err = loadConfig(viper.New(), filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "phase_timeout")
}

func TestNewSalt(t *testing.T) {
	a, err := newSalt()
	require.NoError(t, err)
	b, err := newSalt()
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
