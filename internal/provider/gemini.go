package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/codemie-ai/codemie-sync/internal/conversation"
)

// GeminiName is the canonical name of the Gemini CLI provider
const GeminiName = "gemini"

// Tool name normalization mapping for Gemini CLI
var geminiToolNameMapping = map[string]string{
	"read_file":         "Read",
	"write_file":        "Write",
	"replace":           "Edit",
	"run_shell_command": "Bash",
	"google_web_search": "WebSearch",
	"list_directory":    "Glob",
	"find_files":        "Glob",
	"grep":              "Grep",
	"memory_tool":       "Memory",
}

// Gemini reads Gemini CLI chat files from ~/.gemini/tmp/<project>/chats.
// The CLI rewrites the whole file on every update.
type Gemini struct {
	logger *slog.Logger
}

// NewGemini creates the Gemini CLI provider
func NewGemini(logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gemini{logger: logger}
}

func (g *Gemini) Name() string {
	return GeminiName
}

func (g *Gemini) SessionsDir(home string) string {
	return filepath.Join(home, ".gemini", "tmp")
}

func (g *Gemini) WatermarkStrategy() Strategy {
	return StrategyHash
}

// MatchesSessionPattern accepts chats/session-*.json
func (g *Gemini) MatchesSessionPattern(path string) bool {
	base := filepath.Base(path)
	return filepath.Base(filepath.Dir(path)) == "chats" &&
		strings.HasPrefix(base, "session-") && strings.HasSuffix(base, ".json")
}

func (g *Gemini) ExtractSessionID(path string) string {
	return strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "session-"), ".json")
}

type geminiChat struct {
	SessionID string            `json:"sessionId"`
	Messages  []json.RawMessage `json:"messages"`
}

type geminiMessage struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Model     string          `json:"model"`
	Tokens    *struct {
		Input    int `json:"input"`
		Output   int `json:"output"`
		Cached   int `json:"cached"`
		Thoughts int `json:"thoughts"`
	} `json:"tokens"`
	ToolCalls []struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		Args          json.RawMessage `json:"args"`
		Result        json.RawMessage `json:"result"`
		ResultDisplay json.RawMessage `json:"resultDisplay"`
		Status        string          `json:"status"`
		Timestamp     string          `json:"timestamp"`
	} `json:"toolCalls"`
}

// ReadMessages normalizes the chat onto the shared record model. Tool calls
// embedded in a gemini reply become tool_use blocks plus one synthesized
// tool-result record, matching how append-only transcripts frame them.
func (g *Gemini) ReadMessages(path string) ([]conversation.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat file: %w", err)
	}
	var chat geminiChat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("failed to parse chat file: %w", err)
	}

	var messages []conversation.Message
	for i, raw := range chat.Messages {
		var gm geminiMessage
		if err := json.Unmarshal(raw, &gm); err != nil {
			g.logger.Debug("skipping unparseable chat message", "path", path, "index", i, "error", err)
			continue
		}
		if gm.ID == "" {
			gm.ID = fmt.Sprintf("%s-%d", chat.SessionID, i)
		}
		messages = append(messages, g.normalize(gm, raw)...)
	}
	return messages, nil
}

func (g *Gemini) normalize(gm geminiMessage, raw json.RawMessage) []conversation.Message {
	base := conversation.Message{
		UUID:      gm.ID,
		Timestamp: gm.Timestamp,
		Text:      geminiText(gm.Content),
		Raw:       raw,
	}

	switch gm.Type {
	case "user":
		base.Type = conversation.TypeUser
		return []conversation.Message{base}

	case "error":
		base.Type = conversation.TypeSystem
		base.Subtype = conversation.SubtypeAPIError
		base.Error = base.Text
		if base.Error == "" {
			base.Error = "unknown error"
		}
		return []conversation.Message{base}

	case "gemini":
		base.Type = conversation.TypeAssistant
		base.MessageID = gm.ID
		base.Model = gm.Model
		if gm.Tokens != nil {
			base.Usage = &conversation.Usage{
				InputTokens:          gm.Tokens.Input,
				OutputTokens:         gm.Tokens.Output + gm.Tokens.Thoughts,
				CacheReadInputTokens: gm.Tokens.Cached,
			}
		}
		if len(gm.ToolCalls) == 0 {
			return []conversation.Message{base}
		}

		results := conversation.Message{
			UUID:      gm.ID + "-tool-results",
			Type:      conversation.TypeUser,
			Timestamp: gm.Timestamp,
		}
		for _, call := range gm.ToolCalls {
			base.Content = append(base.Content, conversation.ContentBlock{
				Type:  conversation.BlockToolUse,
				ID:    call.ID,
				Name:  normalizeGeminiTool(call.Name),
				Input: call.Args,
			})
			output := geminiText(call.ResultDisplay)
			if output == "" && len(call.Result) > 0 {
				output = string(call.Result)
			}
			content, _ := json.Marshal(output)
			results.Content = append(results.Content, conversation.ContentBlock{
				Type:      conversation.BlockToolResult,
				ToolUseID: call.ID,
				Content:   content,
				IsError:   call.Status == "error" || call.Status == "cancelled",
			})
			if call.Timestamp > results.Timestamp {
				results.Timestamp = call.Timestamp
			}
		}
		return []conversation.Message{base, results}

	default:
		// info and other notices are bookkeeping
		base.Type = gm.Type
		return []conversation.Message{base}
	}
}

func normalizeGeminiTool(name string) string {
	if mapped, ok := geminiToolNameMapping[name]; ok {
		return mapped
	}
	return name
}

// geminiText accepts a plain string or an array of {text} parts
func geminiText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
