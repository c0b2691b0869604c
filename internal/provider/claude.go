package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codemie-ai/codemie-sync/internal/conversation"
)

// ClaudeName is the canonical name of the Claude Code provider
const ClaudeName = "claude"

// Claude reads Claude Code JSONL transcripts from ~/.claude/projects
type Claude struct {
	logger *slog.Logger
}

// NewClaude creates the Claude Code provider
func NewClaude(logger *slog.Logger) *Claude {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Claude{logger: logger}
}

func (c *Claude) Name() string {
	return ClaudeName
}

func (c *Claude) SessionsDir(home string) string {
	return filepath.Join(home, ".claude", "projects")
}

func (c *Claude) WatermarkStrategy() Strategy {
	return StrategyLine
}

// MatchesSessionPattern accepts <uuid>.jsonl. Sub-agent transcripts
// (agent-*.jsonl) belong to the parent session and are ignored.
func (c *Claude) MatchesSessionPattern(path string) bool {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".jsonl") || strings.HasPrefix(base, "agent-") {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(base, ".jsonl"))
	return err == nil
}

func (c *Claude) ExtractSessionID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// claudeRecord covers the transcript line fields the pipeline uses
type claudeRecord struct {
	Type              string          `json:"type"`
	Subtype           string          `json:"subtype"`
	UUID              string          `json:"uuid"`
	ParentUUID        string          `json:"parentUuid"`
	Timestamp         string          `json:"timestamp"`
	IsMeta            bool            `json:"isMeta"`
	IsCompactSummary  bool            `json:"isCompactSummary"`
	IsAPIErrorMessage bool            `json:"isApiErrorMessage"`
	Content           string          `json:"content"`
	Error             json.RawMessage `json:"error"`
	Message           *struct {
		ID      string              `json:"id"`
		Model   string              `json:"model"`
		Content json.RawMessage     `json:"content"`
		Usage   *conversation.Usage `json:"usage"`
	} `json:"message"`
}

// ReadMessages parses every complete line of the transcript. A trailing
// line without a newline is still being written and is left for the next
// pass. Lines that fail to parse are skipped.
func (c *Claude) ReadMessages(path string) ([]conversation.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	var messages []conversation.Message
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("error reading transcript: %w", err)
		}
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg, err := c.parseLine(line)
		if err != nil {
			c.logger.Debug("skipping unparseable transcript line", "path", path, "line", lineNo, "error", err)
			continue
		}
		msg.Line = lineNo
		messages = append(messages, msg)
	}
	return messages, nil
}

func (c *Claude) parseLine(line []byte) (conversation.Message, error) {
	var rec claudeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return conversation.Message{}, err
	}

	msg := conversation.Message{
		UUID:             rec.UUID,
		ParentUUID:       rec.ParentUUID,
		Type:             rec.Type,
		Subtype:          rec.Subtype,
		Timestamp:        rec.Timestamp,
		IsMeta:           rec.IsMeta,
		IsCompactSummary: rec.IsCompactSummary,
		Raw:              append(json.RawMessage(nil), line...),
	}

	if rec.Message != nil {
		msg.MessageID = rec.Message.ID
		msg.Model = rec.Message.Model
		msg.Usage = rec.Message.Usage
		msg.Text, msg.Content = parseClaudeContent(rec.Message.Content)
	} else if rec.Content != "" {
		msg.Text = rec.Content
	}

	if rec.Type == conversation.TypeSystem && len(rec.Error) > 0 && string(rec.Error) != "null" {
		msg.Subtype = conversation.SubtypeAPIError
		msg.Error = errorString(rec.Error)
	}
	if rec.IsAPIErrorMessage {
		msg.Error = msg.AssistantText()
		if msg.Error == "" {
			msg.Error = "API error"
		}
	}
	return msg, nil
}

// parseClaudeContent accepts both the plain string and the block array form
func parseClaudeContent(raw json.RawMessage) (string, []conversation.ContentBlock) {
	if len(raw) == 0 {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var blocks []conversation.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return "", blocks
	}
	return "", nil
}

func errorString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error.Message != "" {
			return obj.Error.Message
		}
	}
	return string(raw)
}
