package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 45*time.Second, cfg.ExtractionTimeout)
	require.Equal(t, 3*time.Second, cfg.QueueAdvanceDelay)
	require.Equal(t, 30, cfg.LoadPollMaxChecks)
	require.Equal(t, 3, cfg.InjectionAttempts)
	require.Equal(t, 30*time.Second, cfg.TabOpenTimeout)
	require.Equal(t, 10*time.Second, cfg.MessageTimeout)
	require.Equal(t, "activeSearches", cfg.SessionsKey)
	require.Equal(t, "linkedin.com/in/", cfg.ProfileURLPattern)
	require.True(t, cfg.ResetOnStartup)
	require.NoError(t, validate(&cfg))
}

func TestErrorAdvanceDelayIsCapped(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5*time.Second, cfg.ErrorAdvanceDelay())

	cfg.QueueAdvanceDelay = 5 * time.Second
	require.Equal(t, 6*time.Second, cfg.ErrorAdvanceDelay())
}

func TestTabOpenDelayBackoff(t *testing.T) {
	cfg := Default()
	require.Equal(t, 2*time.Second, cfg.TabOpenDelay(0))
	require.Equal(t, 2*time.Second+3*time.Second, cfg.TabOpenDelay(2))
	require.Equal(t, 2*time.Second+8*time.Second, cfg.TabOpenDelay(50))
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := "extraction_timeout: 60s\nstore_backend: sqlite\nsqlite_path: /tmp/x.db\nreset_on_startup: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QUEUE_ADVANCE_DELAY", "1s")
	t.Setenv("TAB_OPEN_TIMEOUT", "12s")
	t.Setenv("MESSAGE_TIMEOUT", "4s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.ExtractionTimeout)
	require.Equal(t, time.Second, cfg.QueueAdvanceDelay)
	require.Equal(t, 12*time.Second, cfg.TabOpenTimeout)
	require.Equal(t, 4*time.Second, cfg.MessageTimeout)
	require.Equal(t, "sqlite", cfg.StoreBackend)
	require.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	require.False(t, cfg.ResetOnStartup)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsConcurrentJobs(t *testing.T) {
	t.Setenv("MAX_ACTIVE_JOBS", "2")
	_, err := Load()
	require.Error(t, err)
}
