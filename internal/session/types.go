package session

import "time"

// Status is the lifecycle status shared by a session and its sync state
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CorrelationStatus reports whether the agent's transcript was found
type CorrelationStatus string

const (
	CorrelationPending CorrelationStatus = "pending"
	CorrelationMatched CorrelationStatus = "matched"
	CorrelationFailed  CorrelationStatus = "failed"
)

// Correlation is the outcome of matching a transcript file to a session
type Correlation struct {
	Status           CorrelationStatus `json:"status"`
	AgentSessionFile string            `json:"agent_session_file,omitempty"`
	AgentSessionID   string            `json:"agent_session_id,omitempty"`
	DetectedAt       *time.Time        `json:"detected_at,omitempty"`
	RetryCount       int               `json:"retry_count"`
}

// Session is the metadata document stored at {root}/{session_id}.json
type Session struct {
	SessionID        string       `json:"session_id"`
	Provider         string       `json:"provider,omitempty"`
	WorkingDirectory string       `json:"working_directory,omitempty"`
	RepoName         string       `json:"repo_name,omitempty"`
	GitBranch        string       `json:"git_branch,omitempty"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          *time.Time   `json:"end_time,omitempty"`
	Status           Status       `json:"status"`
	ExitCode         *int         `json:"exit_code,omitempty"`
	Correlation      *Correlation `json:"correlation,omitempty"`
	Sync             *Sync        `json:"sync,omitempty"`
}

// Sync groups the incremental sync progress embedded in a session
type Sync struct {
	Metrics *SyncState `json:"metrics,omitempty"`
}

// SyncState is the per-session watermark and progress record
type SyncState struct {
	SessionID        string     `json:"session_id"`
	AgentSessionID   string     `json:"agent_session_id"`
	SessionStartTime time.Time  `json:"session_start_time"`
	Status           Status     `json:"status"`
	SessionEndTime   *time.Time `json:"session_end_time,omitempty"`

	// Line-strategy watermark. Never decreases.
	LastProcessedLine      int        `json:"last_processed_line"`
	LastProcessedTimestamp *time.Time `json:"last_processed_timestamp,omitempty"`

	ProcessedRecordIDs      []string `json:"processed_record_ids"`
	AttachedUserPromptTexts []string `json:"attached_user_prompt_texts"`

	TotalDeltas        int        `json:"total_deltas"`
	TotalSynced        int        `json:"total_synced"`
	TotalFailed        int        `json:"total_failed"`
	LastSyncedRecordID string     `json:"last_synced_record_id,omitempty"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`

	// Conversation watermark
	LastSyncedMessageUUID  string `json:"last_synced_message_uuid,omitempty"`
	LastSyncedHistoryIndex int    `json:"last_synced_history_index"`
}

// HasProcessed reports whether a record id was already handled
func (s *SyncState) HasProcessed(recordID string) bool {
	for _, id := range s.ProcessedRecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// HasAttachedPrompt reports whether a user prompt text was already attached
func (s *SyncState) HasAttachedPrompt(text string) bool {
	for _, p := range s.AttachedUserPromptTexts {
		if p == text {
			return true
		}
	}
	return false
}
