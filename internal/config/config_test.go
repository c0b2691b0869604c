package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvDebug, "")
	t.Setenv(EnvDisableMetrics, "")
	t.Setenv(EnvCorrelationAttempts, "")
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, DefaultAttempts, cfg.Correlation.Attempts)
	assert.Equal(t, DefaultInitialDelay, cfg.Correlation.InitialDelay)
	assert.Equal(t, filepath.Join(home, "sessions"), cfg.SessionsDir())
	assert.Equal(t, filepath.Join(home, "logs"), cfg.LogsDir())
	assert.True(t, cfg.ProviderEnabled("claude"))
	assert.False(t, cfg.Debug)
}

func TestLoadFile(t *testing.T) {
	home := isolate(t)
	file := `
debug: true
correlation:
  attempts: 3
  initial_delay: 250ms
  max_delay: 2s
lock_stale_after: 1m
sync_interval: 10s
metrics_textfile: /var/lib/node_exporter/codemie.prom
providers:
  gemini:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(file), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 3, cfg.Correlation.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Correlation.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Correlation.MaxDelay)
	assert.Equal(t, time.Minute, cfg.LockStaleAfter)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
	assert.Equal(t, DefaultDebounce, cfg.Debounce)
	assert.Equal(t, "/var/lib/node_exporter/codemie.prom", cfg.MetricsFile)
	assert.False(t, cfg.ProviderEnabled("gemini"))
	assert.True(t, cfg.ProviderEnabled("claude"))
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("correlation:\n  attempts: 3\n"), 0o600))
	t.Setenv(EnvCorrelationAttempts, "0")
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvDisableMetrics, "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Correlation.Attempts)
	assert.True(t, cfg.Debug)
	assert.False(t, cfg.ProviderEnabled("claude"))
}

func TestInvalidEnvIgnored(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCorrelationAttempts, "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultAttempts, cfg.Correlation.Attempts)
}

func TestLoadRejectsBadFile(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("correlation: [1, 2"), 0o600))
	_, err := Load()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("lock_stale_after: 0s\n"), 0o600))
	_, err = Load()
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default("/tmp/x")
	data, err := cfg.Marshal()
	require.NoError(t, err)

	back := &Config{}
	require.NoError(t, yaml.Unmarshal(data, back))
	assert.Equal(t, cfg.Correlation, back.Correlation)
	assert.Empty(t, back.Home)
}
