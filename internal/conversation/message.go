// Package conversation rebuilds canonical user/assistant history from the
// provider-native records of an agent transcript.
package conversation

import (
	"encoding/json"
	"strings"
)

// Record types as written by the agents. Providers normalize their native
// formats onto these.
const (
	TypeUser                = "user"
	TypeAssistant           = "assistant"
	TypeSystem              = "system"
	TypeSummary             = "summary"
	TypeFileHistorySnapshot = "file-history-snapshot"
	TypeQueueOperation      = "queue-operation"
)

// Content block types
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// SubtypeAPIError marks a system record for a failed backend call
const SubtypeAPIError = "api_error"

// Usage holds token counters for one provider response
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Add accumulates u into the receiver
func (t *Usage) Add(u Usage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheCreationInputTokens += u.CacheCreationInputTokens
	t.CacheReadInputTokens += u.CacheReadInputTokens
}

// ContentBlock is one element of a message's content array
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText flattens a tool_result payload, which is either a string or
// an array of text blocks. Anything else degrades to its raw JSON.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var parts []string
		for _, inner := range blocks {
			if inner.Type == BlockText && inner.Text != "" {
				parts = append(parts, inner.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(b.Content)
}

// Message is one normalized transcript record
type Message struct {
	UUID       string
	ParentUUID string
	Type       string
	Subtype    string
	Timestamp  string

	// Bookkeeping flags on user records
	IsMeta           bool
	IsCompactSummary bool

	// Text is set when the native content is a plain string
	Text    string
	Content []ContentBlock

	Model     string
	MessageID string
	Usage     *Usage
	Error     string

	// Line is the 1-based transcript line for line-oriented formats, 0 otherwise
	Line int
	Raw  json.RawMessage
}

// IsToolResult reports whether the record carries tool output. Agents frame
// these as user records but they continue the open assistant turn.
func (m Message) IsToolResult() bool {
	if m.Type != TypeUser {
		return false
	}
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// IsFreshUser reports whether the record is a prompt typed by the user, as
// opposed to tool output or agent bookkeeping.
func (m Message) IsFreshUser() bool {
	if m.Type != TypeUser || m.IsMeta || m.IsCompactSummary || m.IsToolResult() {
		return false
	}
	text := strings.TrimSpace(m.UserText())
	if text == "" {
		return false
	}
	return !strings.HasPrefix(text, "<local-command-stdout>") &&
		!strings.HasPrefix(text, "<local-command-stderr>")
}

// IsError reports whether the record is a failed backend call
func (m Message) IsError() bool {
	if m.Type == TypeSystem {
		return m.Subtype == SubtypeAPIError || m.Error != ""
	}
	return m.Type == TypeAssistant && m.Error != ""
}

// HasAssistantContent reports whether an assistant record produced text or
// tool calls
func (m Message) HasAssistantContent() bool {
	if m.Type != TypeAssistant {
		return false
	}
	if strings.TrimSpace(m.Text) != "" {
		return true
	}
	for _, b := range m.Content {
		if (b.Type == BlockText && strings.TrimSpace(b.Text) != "") || b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// UserText returns the text typed in a user record
func (m Message) UserText() string {
	if m.Text != "" {
		return m.Text
	}
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// AssistantText returns the visible text of an assistant record
func (m Message) AssistantText() string {
	if m.Text != "" {
		return m.Text
	}
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool calls in an assistant record
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResults returns the tool outputs in a user record
func (m Message) ToolResults() []ContentBlock {
	var results []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}
