// Package provider holds the agent-specific knowledge the sync pipeline
// needs: where transcripts live, how to recognize them and how to read them.
package provider

import (
	"github.com/codemie-ai/codemie-sync/internal/conversation"
)

// Strategy is how a provider's transcript is tracked between passes
type Strategy string

const (
	// StrategyLine tracks the last processed line of an append-only file
	StrategyLine Strategy = "line"
	// StrategyHash tracks content hashes of records in a file that is
	// rewritten as a whole
	StrategyHash Strategy = "hash"
)

// Provider is implemented once per supported agent
type Provider interface {
	// Name is the canonical provider name
	Name() string

	// SessionsDir is the directory the agent writes transcripts under
	SessionsDir(home string) string

	// MatchesSessionPattern reports whether path is a transcript file
	MatchesSessionPattern(path string) bool

	// ExtractSessionID derives the agent-side session id from a transcript path
	ExtractSessionID(path string) string

	// WatermarkStrategy returns how progress through a transcript is tracked
	WatermarkStrategy() Strategy

	// ReadMessages parses the transcript into normalized records
	ReadMessages(path string) ([]conversation.Message, error)
}
