// Package session stores the per-session metadata documents written under
// ~/.codemie/sessions.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codemie-ai/codemie-sync/internal/fsx"
)

// Store reads and writes session documents in one directory
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding session documents and lock files
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the metadata document path for a session
func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// ConversationPath returns the canonical history document for a session
func (s *Store) ConversationPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_conversation.json")
}

// MetricsPath returns the metric delta outbox for a session
func (s *Store) MetricsPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_metrics.jsonl")
}

// Load reads a session document. A missing document returns (nil, nil);
// a corrupt one is an error.
func (s *Store) Load(sessionID string) (*Session, error) {
	data, err := os.ReadFile(s.Path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save atomically replaces the session document
func (s *Store) Save(sess *Session) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("save session: missing session id")
	}
	if err := fsx.WriteJSON(s.Path(sess.SessionID), sess, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", sess.SessionID, err)
	}
	return nil
}

// Update loads a session, applies fn and saves it. A missing session is
// reported as (false, nil) and fn is not called.
func (s *Store) Update(sessionID string, fn func(*Session)) (bool, error) {
	sess, err := s.Load(sessionID)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	fn(sess)
	return true, s.Save(sess)
}

// List returns every readable session document, newest first. Corrupt
// documents are skipped.
func (s *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, "_conversation.json") {
			continue
		}
		sess, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil || sess == nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}
