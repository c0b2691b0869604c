// Package metrics turns transcript records into usage deltas and writes
// them to the per-session outbox.
package metrics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/codemie-ai/codemie-sync/internal/conversation"
	"github.com/codemie-ai/codemie-sync/internal/provider"
	"github.com/codemie-ai/codemie-sync/internal/session"
)

// Delta is the usage attributable to one transcript record
type Delta struct {
	RecordID       string             `json:"record_id"`
	SessionID      string             `json:"session_id"`
	AgentSessionID string             `json:"agent_session_id"`
	Provider       string             `json:"provider"`
	Timestamp      string             `json:"timestamp,omitempty"`
	Model          string             `json:"model,omitempty"`
	Tokens         conversation.Usage `json:"tokens"`
	Tools          map[string]int     `json:"tools,omitempty"`
	ToolErrors     map[string]int     `json:"tool_errors,omitempty"`
	UserPrompts    []string           `json:"user_prompts,omitempty"`
	Line           int                `json:"line,omitempty"`
}

// Batch is everything one collection pass produced
type Batch struct {
	Deltas []Delta

	// RecordIDs are marked processed once the deltas are written. They
	// include usage keys so token counts split over several records of one
	// response are only counted once.
	RecordIDs   []string
	UserPrompts []string

	// Line watermark reached, including records that produced no delta
	LastLine      int
	LastTimestamp time.Time
}

// Collector builds deltas for one session
type Collector struct {
	SessionID      string
	AgentSessionID string
	Provider       string
	Strategy       provider.Strategy
}

// Collect returns the deltas for records not yet reflected in state
func (c Collector) Collect(msgs []conversation.Message, state *session.SyncState) Batch {
	batch := Batch{LastLine: state.LastProcessedLine}

	seen := make(map[string]bool)
	processed := func(id string) bool {
		return seen[id] || state.HasProcessed(id)
	}
	markSeen := func(id string) {
		seen[id] = true
		batch.RecordIDs = append(batch.RecordIDs, id)
	}

	toolNames := make(map[string]string)
	for _, m := range msgs {
		for _, use := range m.ToolUses() {
			toolNames[use.ID] = use.Name
		}
	}

	prompt := ""
	for _, m := range msgs {
		if m.IsFreshUser() {
			prompt = strings.TrimSpace(m.UserText())
		}

		if c.Strategy == provider.StrategyLine {
			if m.Line <= state.LastProcessedLine {
				continue
			}
			if m.Line > batch.LastLine {
				batch.LastLine = m.Line
			}
			if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil && ts.After(batch.LastTimestamp) {
				batch.LastTimestamp = ts
			}
		}

		id := c.recordID(m)
		if id == "" || processed(id) {
			continue
		}

		delta, keys := c.delta(m, toolNames, processed)
		if m.Usage != nil {
			key := "usage:" + m.MessageID
			if m.MessageID == "" || !processed(key) {
				delta.Tokens = *m.Usage
				if m.MessageID != "" {
					keys = append(keys, key)
				}
			}
		}
		if delta.Tokens == (conversation.Usage{}) && len(delta.Tools) == 0 && len(delta.ToolErrors) == 0 {
			continue
		}
		delta.RecordID = id
		markSeen(id)
		for _, key := range keys {
			markSeen(key)
		}

		if prompt != "" && !state.HasAttachedPrompt(prompt) && !contains(batch.UserPrompts, prompt) {
			delta.UserPrompts = []string{prompt}
			batch.UserPrompts = append(batch.UserPrompts, prompt)
		}
		batch.Deltas = append(batch.Deltas, delta)
	}
	return batch
}

// delta counts the tool uses and tool errors of a record that no earlier
// record already counted. Rewritten chat files repeat a call under a new
// record hash, so calls are keyed by their own id. The returned keys are
// marked processed with the record.
func (c Collector) delta(m conversation.Message, toolNames map[string]string, processed func(string) bool) (Delta, []string) {
	d := Delta{
		SessionID:      c.SessionID,
		AgentSessionID: c.AgentSessionID,
		Provider:       c.Provider,
		Timestamp:      m.Timestamp,
		Model:          m.Model,
		Line:           m.Line,
	}
	var keys []string

	switch {
	case m.Type == conversation.TypeAssistant && !m.IsError():
		for _, use := range m.ToolUses() {
			if use.ID != "" {
				key := "tool:" + use.ID
				if processed(key) || contains(keys, key) {
					continue
				}
				keys = append(keys, key)
			}
			if d.Tools == nil {
				d.Tools = make(map[string]int)
			}
			d.Tools[use.Name]++
		}

	case m.IsToolResult():
		for _, res := range m.ToolResults() {
			if !res.IsError {
				continue
			}
			if res.ToolUseID != "" {
				key := "tool_error:" + res.ToolUseID
				if processed(key) || contains(keys, key) {
					continue
				}
				keys = append(keys, key)
			}
			name := toolNames[res.ToolUseID]
			if name == "" {
				name = "unknown"
			}
			if d.ToolErrors == nil {
				d.ToolErrors = make(map[string]int)
			}
			d.ToolErrors[name]++
		}
	}
	return d, keys
}

// recordID identifies a record across passes. Append-only transcripts keep
// record uuids stable; rewritten files are keyed by content.
func (c Collector) recordID(m conversation.Message) string {
	if c.Strategy == provider.StrategyHash {
		if len(m.Raw) == 0 {
			if m.UUID == "" {
				return ""
			}
			return "id:" + m.UUID
		}
		sum := sha256.Sum256(m.Raw)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	if m.UUID != "" {
		return m.UUID
	}
	if m.Line > 0 {
		return fmt.Sprintf("line:%d", m.Line)
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
