package syncstate

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-ai/codemie-sync/internal/session"
)

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*Manager, *session.Store) {
	t.Helper()
	store := session.NewStore(t.TempDir())
	m := NewManager(store, "sess-1", nil)
	m.now = func() time.Time { return start.Add(time.Hour) }
	return m, store
}

func TestInitializeCreatesState(t *testing.T) {
	m, store := newManager(t)

	state, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", state.SessionID)
	assert.Equal(t, "agent-abc", state.AgentSessionID)
	assert.Equal(t, session.StatusActive, state.Status)
	assert.Equal(t, -1, state.LastSyncedHistoryIndex)

	sess, err := store.Load("sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Sync)
	assert.Equal(t, state, sess.Sync.Metrics)
}

func TestInitializeIsIdempotent(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)
	require.NoError(t, m.UpdateLastProcessed(12, start))

	again, err := m.Initialize("agent-other", start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "agent-abc", again.AgentSessionID)
	assert.Equal(t, 12, again.LastProcessedLine)
	assert.Equal(t, start, again.SessionStartTime)
}

func TestInitializePreservesSessionMetadata(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, store.Save(&session.Session{
		SessionID:        "sess-1",
		Provider:         "claude",
		WorkingDirectory: "/work/dir",
		StartTime:        start,
		Status:           session.StatusActive,
	}))

	_, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)

	sess, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "claude", sess.Provider)
	assert.Equal(t, "/work/dir", sess.WorkingDirectory)
}

func TestInitializePropagatesCorruption(t *testing.T) {
	m, store := newManager(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.Path("sess-1"), []byte("{not json"), 0o600))

	_, err := m.Initialize("agent-abc", start)
	assert.Error(t, err)

	_, err = m.Load()
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, _ := newManager(t)
	ts := start.Add(5 * time.Minute)
	end := start.Add(time.Hour)

	state := &session.SyncState{
		SessionID:               "sess-1",
		AgentSessionID:          "agent-abc",
		SessionStartTime:        start,
		Status:                  session.StatusCompleted,
		SessionEndTime:          &end,
		LastProcessedLine:       42,
		LastProcessedTimestamp:  &ts,
		ProcessedRecordIDs:      []string{"a", "b"},
		AttachedUserPromptTexts: []string{"fix the bug"},
		TotalDeltas:             3,
		TotalSynced:             2,
		TotalFailed:             1,
		LastSyncedRecordID:      "b",
		LastSyncAt:              &ts,
		LastSyncedMessageUUID:   "uuid-9",
		LastSyncedHistoryIndex:  4,
	}
	require.NoError(t, m.Save(state))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, state, loaded)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	m, _ := newManager(t)
	state, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestMutationsOnMissingStateAreNoOps(t *testing.T) {
	m, store := newManager(t)

	assert.NoError(t, m.UpdateLastProcessed(10, start))
	assert.NoError(t, m.AddProcessedRecords([]string{"a"}))
	assert.NoError(t, m.AddAttachedUserPrompts([]string{"p"}))
	assert.NoError(t, m.MarkSynced("a", 1))
	assert.NoError(t, m.IncrementDeltas(1))
	assert.NoError(t, m.IncrementFailed(1))
	assert.NoError(t, m.UpdateStatus(session.StatusCompleted))
	assert.NoError(t, m.UpdateConversationWatermark("u", 1))

	_, err := os.Stat(store.Path("sess-1"))
	assert.True(t, os.IsNotExist(err), "no-op mutations must not create the document")
}

func TestWatermarkIsMonotonic(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)

	lines := []int{5, 3, 9, 9, 1, 12, 0}
	highest := 0
	for _, line := range lines {
		require.NoError(t, m.UpdateLastProcessed(line, time.Time{}))
		state, err := m.Load()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, state.LastProcessedLine, highest)
		highest = state.LastProcessedLine
	}
	assert.Equal(t, 12, highest)

	require.NoError(t, m.UpdateLastProcessed(12, start.Add(time.Minute)))
	require.NoError(t, m.UpdateLastProcessed(12, start))
	state, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), *state.LastProcessedTimestamp)
}

func TestProcessedRecordsAreAtMostOnce(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)

	require.NoError(t, m.AddProcessedRecords([]string{"a", "b", "c"}))
	require.NoError(t, m.AddProcessedRecords([]string{"b", "c", "d", "d"}))

	state, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, state.ProcessedRecordIDs)
	assert.True(t, state.HasProcessed("d"))
	assert.False(t, state.HasProcessed("e"))

	require.NoError(t, m.AddAttachedUserPrompts([]string{"hello", "hello"}))
	require.NoError(t, m.AddAttachedUserPrompts([]string{"hello", "world"}))
	state, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, state.AttachedUserPromptTexts)
}

func TestCountersAndStatus(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Initialize("agent-abc", start)
	require.NoError(t, err)

	require.NoError(t, m.IncrementDeltas(4))
	require.NoError(t, m.IncrementDeltas(1))
	require.NoError(t, m.MarkSynced("rec-5", 4))
	require.NoError(t, m.IncrementFailed(1))
	require.NoError(t, m.UpdateConversationWatermark("uuid-3", 2))
	require.NoError(t, m.UpdateStatus(session.StatusCompleted))

	state, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, state.TotalDeltas)
	assert.Equal(t, 4, state.TotalSynced)
	assert.Equal(t, 1, state.TotalFailed)
	assert.Equal(t, "rec-5", state.LastSyncedRecordID)
	require.NotNil(t, state.LastSyncAt)
	assert.Equal(t, start.Add(time.Hour), *state.LastSyncAt)
	assert.Equal(t, "uuid-3", state.LastSyncedMessageUUID)
	assert.Equal(t, 2, state.LastSyncedHistoryIndex)
	assert.Equal(t, session.StatusCompleted, state.Status)
	require.NotNil(t, state.SessionEndTime)
}
