package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/codemie-ai/codemie-sync/internal/fsx"
)

// Document is the canonical history file for one session
type Document struct {
	SessionID string         `json:"session_id"`
	UpdatedAt time.Time      `json:"updated_at"`
	History   []HistoryEntry `json:"history"`
}

// Store persists canonical history, applying the replace-or-append protocol
// of transformer results
type Store struct {
	path func(sessionID string) string
	now  func() time.Time
}

// NewStore creates a store. path maps a session id to its document path.
func NewStore(path func(sessionID string) string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load reads a session's history. A missing document is empty.
func (s *Store) Load(sessionID string) (*Document, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Document{SessionID: sessionID}, nil
		}
		return nil, fmt.Errorf("read conversation %s: %w", sessionID, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse conversation %s: %w", sessionID, err)
	}
	return &doc, nil
}

// Apply merges a result into the stored history. Entries of the result's
// history index replace any stored ones; a replay of a NewTurn after a crash
// is therefore harmless.
func (s *Store) Apply(sessionID string, r Result) error {
	if r.Kind == NoChange || len(r.Entries) == 0 {
		return nil
	}
	doc, err := s.Load(sessionID)
	if err != nil {
		return err
	}

	kept := doc.History[:0]
	for _, e := range doc.History {
		if e.HistoryIndex != r.HistoryIndex {
			kept = append(kept, e)
		}
	}
	doc.History = append(kept, r.Entries...)
	sort.SliceStable(doc.History, func(i, j int) bool {
		return doc.History[i].HistoryIndex < doc.History[j].HistoryIndex
	})
	doc.UpdatedAt = s.now().UTC()

	if err := fsx.WriteJSON(s.path(sessionID), doc, 0o600); err != nil {
		return fmt.Errorf("write conversation %s: %w", sessionID, err)
	}
	return nil
}
