package conversation

import "encoding/json"

// Role of a canonical history entry
type Role string

const (
	RoleUser      Role = "User"
	RoleAssistant Role = "Assistant"
)

// ThoughtType classifies the steps an assistant took within a turn
type ThoughtType string

const (
	ThoughtTool         ThoughtType = "tool"
	ThoughtIntermediate ThoughtType = "intermediate"
	ThoughtError        ThoughtType = "error"
)

// Thought statuses
const (
	ThoughtSuccess = "success"
	ThoughtFailed  = "error"
	ThoughtPending = "pending"
)

// Thought is one step of assistant activity
type Thought struct {
	ID       string          `json:"id"`
	Type     ThoughtType     `json:"type"`
	ToolName string          `json:"tool_name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Message  string          `json:"message"`
	Status   string          `json:"status,omitempty"`
	Date     string          `json:"date,omitempty"`
}

// HistoryEntry is the canonical, provider-independent conversation record
type HistoryEntry struct {
	Role         Role   `json:"role"`
	Message      string `json:"message"`
	MessageRaw   string `json:"message_raw"`
	HistoryIndex int    `json:"history_index"`
	Date         string `json:"date"`

	// Seconds from the user prompt to the final assistant record
	ResponseTime *float64 `json:"response_time,omitempty"`

	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`

	Thoughts []Thought `json:"thoughts,omitempty"`
}
