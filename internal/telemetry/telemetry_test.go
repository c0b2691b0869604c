package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Passes.WithLabelValues("claude", "ok").Inc()
	m.Passes.WithLabelValues("claude", "ok").Inc()
	m.Deltas.WithLabelValues("claude").Add(3)
	m.LockBusy.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Passes.WithLabelValues("claude", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Deltas.WithLabelValues("claude")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockBusy))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.LockBusy.Inc()
	assert.Zero(t, testutil.ToFloat64(b.LockBusy))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Turns.WithLabelValues("gemini", "new_turn").Inc()
	m.CorrelationRetries.Observe(3)

	path := filepath.Join(t.TempDir(), "collector", "codemie_sync.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `codemie_sync_conversation_turns_total{kind="new_turn",provider="gemini"} 1`), text)
	assert.Contains(t, text, "codemie_sync_correlation_retries_count 1")

	require.NoError(t, m.WriteTextfile(""))
}
