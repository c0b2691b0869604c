package conversation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Kind tells a caller how to apply a Result
type Kind int

const (
	// NoChange carries no entries. The watermark may still advance past
	// bookkeeping records.
	NoChange Kind = iota
	// NewTurn entries are appended under a fresh history index
	NewTurn
	// Continuation entries replace every entry previously emitted for the
	// same history index
	Continuation
)

func (k Kind) String() string {
	switch k {
	case NewTurn:
		return "new_turn"
	case Continuation:
		return "continuation"
	default:
		return "no_change"
	}
}

// Watermark is the conversation progress persisted in the sync state
type Watermark struct {
	MessageUUID  string `json:"message_uuid"`
	HistoryIndex int    `json:"history_index"` // -1 before the first turn
}

// Result is the outcome of one Transform call
type Result struct {
	Kind                     Kind
	Entries                  []HistoryEntry
	LastProcessedMessageUUID string
	HistoryIndex             int
}

// IsTurnContinuation reports whether the entries rewrite an already emitted turn
func (r Result) IsTurnContinuation() bool {
	return r.Kind == Continuation
}

// Watermark returns the progress to persist after applying r
func (r Result) Watermark() Watermark {
	return Watermark{MessageUUID: r.LastProcessedMessageUUID, HistoryIndex: r.HistoryIndex}
}

// Advanced reports whether applying r moves the watermark past prev
func (r Result) Advanced(prev Watermark) bool {
	return r.Kind != NoChange || r.LastProcessedMessageUUID != prev.MessageUUID
}

// Transformer turns provider records into canonical history, one turn per call
type Transformer struct {
	logger *slog.Logger
}

// NewTransformer creates a transformer. A nil logger discards output.
func NewTransformer(logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transformer{logger: logger}
}

// Transform renders the first turn touched by records after the watermark.
//
// Records are the full transcript read so far, in order. If the watermark
// uuid is no longer present the transcript was rewritten and processing
// restarts from the top, reusing history indexes from zero so the rewritten
// turns replace what was stored before.
//
// A fresh user prompt after the watermark opens a NewTurn that runs up to
// the next fresh prompt. Tool output, assistant records and errors after the
// watermark mean the last emitted turn grew; it is re-rendered in full as a
// Continuation.
func (t *Transformer) Transform(msgs []Message, wm Watermark) Result {
	start, prev := 0, -1
	if wm.MessageUUID != "" {
		prev = indexOfUUID(msgs, wm.MessageUUID)
		if prev < 0 {
			t.logger.Warn("watermark message not found, restarting from top", "uuid", wm.MessageUUID)
			wm = Watermark{HistoryIndex: -1}
		} else {
			start = prev + 1
		}
	}

	unchanged := Result{Kind: NoChange, LastProcessedMessageUUID: wm.MessageUUID, HistoryIndex: wm.HistoryIndex}
	if start >= len(msgs) {
		return unchanged
	}

	lastSeen := wm.MessageUUID
	found := -1
	for i := start; i < len(msgs); i++ {
		m := msgs[i]
		if m.IsFreshUser() || m.IsToolResult() || m.HasAssistantContent() || m.IsError() {
			found = i
			break
		}
		if m.UUID != "" {
			lastSeen = m.UUID
		}
	}
	if found < 0 {
		unchanged.LastProcessedMessageUUID = lastSeen
		return unchanged
	}

	if msgs[found].IsFreshUser() {
		end := nextFreshUser(msgs, found+1)
		index := wm.HistoryIndex + 1
		if index < 0 {
			index = 0
		}
		return Result{
			Kind:                     NewTurn,
			Entries:                  t.renderTurn(msgs[found:end], index),
			LastProcessedMessageUUID: lastUUID(msgs[found:end], lastSeen),
			HistoryIndex:             index,
		}
	}

	turnStart := -1
	if prev >= 0 {
		turnStart = previousFreshUser(msgs, prev)
	}
	end := nextFreshUser(msgs, found+1)
	if turnStart < 0 || wm.HistoryIndex < 0 {
		// Assistant activity with no open turn, e.g. the tail of a resumed
		// transcript. Nothing to attach it to.
		t.logger.Debug("skipping records without an open turn", "from", found, "to", end)
		unchanged.LastProcessedMessageUUID = lastUUID(msgs[found:end], lastSeen)
		return unchanged
	}

	return Result{
		Kind:                     Continuation,
		Entries:                  t.renderTurn(msgs[turnStart:end], wm.HistoryIndex),
		LastProcessedMessageUUID: lastUUID(msgs[turnStart:end], lastSeen),
		HistoryIndex:             wm.HistoryIndex,
	}
}

// renderTurn emits the user entry and at most one aggregated assistant entry
func (t *Transformer) renderTurn(turn []Message, index int) []HistoryEntry {
	prompt := turn[0]
	raw := prompt.UserText()
	entries := []HistoryEntry{{
		Role:         RoleUser,
		Message:      unwrapSlashCommand(raw),
		MessageRaw:   raw,
		HistoryIndex: index,
		Date:         prompt.Timestamp,
	}}

	var (
		texts       []string
		thoughts    []Thought
		usage       Usage
		errCount    int
		lastReplyTS string
	)
	toolThought := make(map[string]int)
	countedUsage := make(map[string]bool)

	for _, m := range turn[1:] {
		switch {
		case m.IsError():
			errCount++
			thoughts = append(thoughts, Thought{
				ID:      m.UUID,
				Type:    ThoughtError,
				Message: errorText(m),
				Status:  ThoughtFailed,
				Date:    m.Timestamp,
			})

		case m.Type == TypeAssistant:
			if m.Usage != nil {
				key := m.MessageID
				if key == "" {
					key = m.UUID
				}
				if key == "" || !countedUsage[key] {
					usage.Add(*m.Usage)
					countedUsage[key] = true
				}
			}
			if text := strings.TrimSpace(m.AssistantText()); text != "" {
				texts = append(texts, text)
				thoughts = append(thoughts, Thought{
					ID:      m.UUID,
					Type:    ThoughtIntermediate,
					Message: text,
					Date:    m.Timestamp,
				})
				lastReplyTS = m.Timestamp
			}
			for _, use := range m.ToolUses() {
				toolThought[use.ID] = len(thoughts)
				thoughts = append(thoughts, Thought{
					ID:       use.ID,
					Type:     ThoughtTool,
					ToolName: use.Name,
					Input:    use.Input,
					Status:   ThoughtPending,
					Date:     m.Timestamp,
				})
				lastReplyTS = m.Timestamp
			}

		case m.IsToolResult():
			for _, res := range m.ToolResults() {
				status := ThoughtSuccess
				if res.IsError {
					status = ThoughtFailed
				}
				idx, ok := toolThought[res.ToolUseID]
				if !ok {
					thoughts = append(thoughts, Thought{
						ID:      res.ToolUseID,
						Type:    ThoughtTool,
						Message: res.ResultText(),
						Status:  status,
						Date:    m.Timestamp,
					})
					continue
				}
				thoughts[idx].Message = res.ResultText()
				thoughts[idx].Status = status
			}
		}
	}

	// The final text is the answer itself, not an intermediate step
	if len(texts) > 0 {
		for i := len(thoughts) - 1; i >= 0; i-- {
			if thoughts[i].Type == ThoughtIntermediate {
				thoughts = append(thoughts[:i], thoughts[i+1:]...)
				break
			}
		}
	}

	message := strings.Join(texts, "\n\n")
	if message == "" && len(thoughts) == 0 {
		return entries
	}
	if message == "" && errCount > 0 && errCount == len(thoughts) {
		message = fmt.Sprintf("Failed after %d error(s)", errCount)
	}

	date := lastReplyTS
	if date == "" {
		date = turn[len(turn)-1].Timestamp
	}
	entries = append(entries, HistoryEntry{
		Role:                     RoleAssistant,
		Message:                  message,
		MessageRaw:               message,
		HistoryIndex:             index,
		Date:                     date,
		ResponseTime:             t.responseTime(prompt.Timestamp, date),
		InputTokens:              usage.InputTokens,
		OutputTokens:             usage.OutputTokens,
		CacheCreationInputTokens: usage.CacheCreationInputTokens,
		CacheReadInputTokens:     usage.CacheReadInputTokens,
		Thoughts:                 thoughts,
	})
	return entries
}

func (t *Transformer) responseTime(from, to string) *float64 {
	start, err := parseTimestamp(from)
	if err != nil {
		t.logger.Debug("invalid prompt timestamp", "timestamp", from, "error", err)
		return nil
	}
	end, err := parseTimestamp(to)
	if err != nil {
		t.logger.Debug("invalid reply timestamp", "timestamp", to, "error", err)
		return nil
	}
	secs := end.Sub(start).Seconds()
	if secs < 0 {
		t.logger.Warn("negative response time, clock skew", "from", from, "to", to)
		secs = 0
	}
	return &secs
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func errorText(m Message) string {
	if m.Error != "" {
		return m.Error
	}
	if text := m.AssistantText(); text != "" {
		return text
	}
	return "unknown error"
}

var (
	commandNameRe = regexp.MustCompile(`(?s)<command-name>(.*?)</command-name>`)
	commandArgsRe = regexp.MustCompile(`(?s)<command-args>(.*?)</command-args>`)
)

// unwrapSlashCommand turns the tagged form agents record for slash commands
// into the command line the user typed
func unwrapSlashCommand(text string) string {
	name := commandNameRe.FindStringSubmatch(text)
	if name == nil {
		return text
	}
	cmd := "/" + strings.TrimPrefix(strings.TrimSpace(name[1]), "/")
	if args := commandArgsRe.FindStringSubmatch(text); args != nil {
		if a := strings.TrimSpace(args[1]); a != "" {
			cmd += " " + a
		}
	}
	return cmd
}

func indexOfUUID(msgs []Message, uuid string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].UUID == uuid {
			return i
		}
	}
	return -1
}

func nextFreshUser(msgs []Message, from int) int {
	for i := from; i < len(msgs); i++ {
		if msgs[i].IsFreshUser() {
			return i
		}
	}
	return len(msgs)
}

func previousFreshUser(msgs []Message, from int) int {
	for i := from; i >= 0; i-- {
		if msgs[i].IsFreshUser() {
			return i
		}
	}
	return -1
}

func lastUUID(msgs []Message, fallback string) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].UUID != "" {
			return msgs[i].UUID
		}
	}
	return fallback
}
