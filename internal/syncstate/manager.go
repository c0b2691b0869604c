// Package syncstate persists the per-session sync watermark embedded in the
// session metadata document. Every mutation is a full read-modify-write, so
// callers must hold the session lock.
package syncstate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codemie-ai/codemie-sync/internal/session"
)

// Manager reads and mutates the sync state of one session
type Manager struct {
	store     *session.Store
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a manager for sessionID backed by store
func NewManager(store *session.Store, sessionID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:     store,
		sessionID: sessionID,
		logger:    logger.With("session_id", sessionID),
		now:       time.Now,
	}
}

// Initialize creates the sync state if none exists. An existing state is
// returned unmodified. Corruption and I/O failures propagate.
func (m *Manager) Initialize(agentSessionID string, startTime time.Time) (*session.SyncState, error) {
	sess, err := m.store.Load(m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("initialize sync state: %w", err)
	}
	if sess == nil {
		sess = &session.Session{
			SessionID: m.sessionID,
			StartTime: startTime,
			Status:    session.StatusActive,
		}
	}
	if sess.Sync != nil && sess.Sync.Metrics != nil {
		m.logger.Debug("sync state already initialized", "agent_session_id", sess.Sync.Metrics.AgentSessionID)
		return sess.Sync.Metrics, nil
	}

	state := &session.SyncState{
		SessionID:               m.sessionID,
		AgentSessionID:          agentSessionID,
		SessionStartTime:        startTime,
		Status:                  session.StatusActive,
		ProcessedRecordIDs:      []string{},
		AttachedUserPromptTexts: []string{},
		LastSyncedHistoryIndex:  -1,
	}
	if sess.Sync == nil {
		sess.Sync = &session.Sync{}
	}
	sess.Sync.Metrics = state

	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("initialize sync state: %w", err)
	}
	m.logger.Info("sync state initialized", "agent_session_id", agentSessionID)
	return state, nil
}

// Load returns the current sync state, or nil if there is none
func (m *Manager) Load() (*session.SyncState, error) {
	sess, err := m.store.Load(m.sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Sync == nil {
		return nil, nil
	}
	return sess.Sync.Metrics, nil
}

// Save writes state into the session document atomically, creating the
// document if needed.
func (m *Manager) Save(state *session.SyncState) error {
	if state == nil {
		return errors.New("save sync state: nil state")
	}
	sess, err := m.store.Load(m.sessionID)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	if sess == nil {
		sess = &session.Session{
			SessionID: m.sessionID,
			StartTime: state.SessionStartTime,
			Status:    state.Status,
		}
	}
	if sess.Sync == nil {
		sess.Sync = &session.Sync{}
	}
	sess.Sync.Metrics = state
	return m.store.Save(sess)
}

// UpdateLastProcessed advances the line watermark. A lower line is ignored
// so the watermark never moves backwards.
func (m *Manager) UpdateLastProcessed(line int, timestamp time.Time) error {
	return m.mutate("update last processed", func(s *session.SyncState) {
		if line > s.LastProcessedLine {
			s.LastProcessedLine = line
		}
		if !timestamp.IsZero() && (s.LastProcessedTimestamp == nil || timestamp.After(*s.LastProcessedTimestamp)) {
			ts := timestamp
			s.LastProcessedTimestamp = &ts
		}
	})
}

// AddProcessedRecords unions ids into the processed set
func (m *Manager) AddProcessedRecords(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.mutate("add processed records", func(s *session.SyncState) {
		s.ProcessedRecordIDs = union(s.ProcessedRecordIDs, ids)
	})
}

// AddAttachedUserPrompts unions prompt texts into the attached set
func (m *Manager) AddAttachedUserPrompts(texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	return m.mutate("add attached user prompts", func(s *session.SyncState) {
		s.AttachedUserPromptTexts = union(s.AttachedUserPromptTexts, texts)
	})
}

// MarkSynced records a successful delivery of count deltas ending at lastRecordID
func (m *Manager) MarkSynced(lastRecordID string, count int) error {
	return m.mutate("mark synced", func(s *session.SyncState) {
		now := m.now()
		s.TotalSynced += count
		if lastRecordID != "" {
			s.LastSyncedRecordID = lastRecordID
		}
		s.LastSyncAt = &now
	})
}

// IncrementDeltas adds to the number of distinct deltas delivered
func (m *Manager) IncrementDeltas(count int) error {
	return m.mutate("increment deltas", func(s *session.SyncState) {
		s.TotalDeltas += count
	})
}

// IncrementFailed adds to the number of deltas that failed to deliver
func (m *Manager) IncrementFailed(count int) error {
	return m.mutate("increment failed", func(s *session.SyncState) {
		s.TotalFailed += count
	})
}

// UpdateStatus sets the status; terminal statuses also stamp the end time
func (m *Manager) UpdateStatus(status session.Status) error {
	return m.mutate("update status", func(s *session.SyncState) {
		s.Status = status
		if status == session.StatusCompleted || status == session.StatusFailed {
			end := m.now()
			s.SessionEndTime = &end
		}
	})
}

// UpdateConversationWatermark records how far conversation history was emitted
func (m *Manager) UpdateConversationWatermark(messageUUID string, historyIndex int) error {
	return m.mutate("update conversation watermark", func(s *session.SyncState) {
		s.LastSyncedMessageUUID = messageUUID
		s.LastSyncedHistoryIndex = historyIndex
	})
}

// mutate loads the state, applies fn and saves. A missing document or
// state is a logged no-op.
func (m *Manager) mutate(op string, fn func(*session.SyncState)) error {
	sess, err := m.store.Load(m.sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil || sess.Sync == nil || sess.Sync.Metrics == nil {
		m.logger.Debug("no sync state, skipping mutation", "op", op)
		return nil
	}
	fn(sess.Sync.Metrics)
	if err := m.store.Save(sess); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func union(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, v := range existing {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range add {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
