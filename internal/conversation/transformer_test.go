package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(uuid, text, ts string) Message {
	return Message{UUID: uuid, Type: TypeUser, Timestamp: ts, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

func assistant(uuid, text, ts string, blocks ...ContentBlock) Message {
	m := Message{UUID: uuid, Type: TypeAssistant, Timestamp: ts, MessageID: "msg_" + uuid}
	if text != "" {
		m.Content = append(m.Content, ContentBlock{Type: BlockText, Text: text})
	}
	m.Content = append(m.Content, blocks...)
	return m
}

func toolUse(id, name string) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: json.RawMessage(`{"path":"main.go"}`)}
}

func toolResult(uuid, toolUseID, output, ts string, isErr bool) Message {
	content, _ := json.Marshal(output)
	return Message{UUID: uuid, Type: TypeUser, Timestamp: ts, Content: []ContentBlock{{
		Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isErr,
	}}}
}

func apiError(uuid, text, ts string) Message {
	return Message{UUID: uuid, Type: TypeSystem, Subtype: SubtypeAPIError, Timestamp: ts, Error: text}
}

// A: prompt, B: text + tool call, C: tool output, D: final answer
func oneTurn() []Message {
	return []Message{
		user("A", "Fix the build", "2025-01-01T10:00:00Z"),
		assistant("B", "Let me look.", "2025-01-01T10:00:01Z", toolUse("T1", "Read")),
		toolResult("C", "T1", "package main", "2025-01-01T10:00:02Z", false),
		assistant("D", "Done.", "2025-01-01T10:00:05Z"),
	}
}

var unset = Watermark{HistoryIndex: -1}

func TestTransform_FirstPassIsNewTurn(t *testing.T) {
	res := NewTransformer(nil).Transform(oneTurn(), unset)

	assert.Equal(t, NewTurn, res.Kind)
	assert.False(t, res.IsTurnContinuation())
	assert.Equal(t, 0, res.HistoryIndex)
	assert.Equal(t, "D", res.LastProcessedMessageUUID)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, RoleUser, res.Entries[0].Role)
	assert.Equal(t, "Fix the build", res.Entries[0].Message)

	reply := res.Entries[1]
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, "Let me look.\n\nDone.", reply.Message)
	assert.Equal(t, "2025-01-01T10:00:05Z", reply.Date)
	require.Len(t, reply.Thoughts, 2)
	assert.Equal(t, ThoughtIntermediate, reply.Thoughts[0].Type)
	assert.Equal(t, "Let me look.", reply.Thoughts[0].Message)
	assert.Equal(t, ThoughtTool, reply.Thoughts[1].Type)
	assert.Equal(t, "Read", reply.Thoughts[1].ToolName)
	assert.Equal(t, "package main", reply.Thoughts[1].Message)
	assert.Equal(t, ThoughtSuccess, reply.Thoughts[1].Status)
}

func TestTransform_WatermarkInsideTurnRerendersWholeTurn(t *testing.T) {
	res := NewTransformer(nil).Transform(oneTurn(), Watermark{MessageUUID: "C", HistoryIndex: 0})

	assert.Equal(t, Continuation, res.Kind)
	assert.True(t, res.IsTurnContinuation())
	assert.Equal(t, 0, res.HistoryIndex)
	assert.Equal(t, "D", res.LastProcessedMessageUUID)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Fix the build", res.Entries[0].Message)
	assert.Equal(t, "Let me look.\n\nDone.", res.Entries[1].Message)
}

func TestTransform_GrowingTurn(t *testing.T) {
	tr := NewTransformer(nil)
	all := oneTurn()

	first := tr.Transform(all[:2], unset)
	require.Equal(t, NewTurn, first.Kind)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, "Let me look.", first.Entries[1].Message)
	assert.Equal(t, ThoughtPending, first.Entries[1].Thoughts[0].Status)

	second := tr.Transform(all, first.Watermark())
	assert.Equal(t, Continuation, second.Kind)
	assert.Equal(t, 0, second.HistoryIndex)
	assert.Equal(t, "Let me look.\n\nDone.", second.Entries[1].Message)

	third := tr.Transform(all, second.Watermark())
	assert.Equal(t, NoChange, third.Kind)
	assert.False(t, third.Advanced(second.Watermark()))
}

func TestTransform_NextPromptOpensNewTurn(t *testing.T) {
	msgs := append(oneTurn(), user("E", "Now add tests", "2025-01-01T10:01:00Z"))

	res := NewTransformer(nil).Transform(msgs, Watermark{MessageUUID: "D", HistoryIndex: 0})
	assert.Equal(t, NewTurn, res.Kind)
	assert.Equal(t, 1, res.HistoryIndex)
	assert.Equal(t, "E", res.LastProcessedMessageUUID)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, RoleUser, res.Entries[0].Role)
	assert.Equal(t, 1, res.Entries[0].HistoryIndex)
}

func TestTransform_OneTurnPerCall(t *testing.T) {
	msgs := append(oneTurn(),
		user("E", "Now add tests", "2025-01-01T10:01:00Z"),
		assistant("F", "Added.", "2025-01-01T10:01:09Z"),
	)
	tr := NewTransformer(nil)

	first := tr.Transform(msgs, unset)
	assert.Equal(t, "D", first.LastProcessedMessageUUID)

	second := tr.Transform(msgs, first.Watermark())
	assert.Equal(t, NewTurn, second.Kind)
	assert.Equal(t, 1, second.HistoryIndex)
	assert.Equal(t, "F", second.LastProcessedMessageUUID)
	assert.Equal(t, "Added.", second.Entries[1].Message)
}

func TestTransform_BookkeepingAdvancesWatermark(t *testing.T) {
	msgs := append(oneTurn(),
		Message{UUID: "S", Type: TypeSummary},
		Message{UUID: "F", Type: TypeFileHistorySnapshot},
		Message{UUID: "M", Type: TypeUser, IsMeta: true, Text: "Caveat: local command"},
	)
	prev := Watermark{MessageUUID: "D", HistoryIndex: 0}

	res := NewTransformer(nil).Transform(msgs, prev)
	assert.Equal(t, NoChange, res.Kind)
	assert.Empty(t, res.Entries)
	assert.Equal(t, "M", res.LastProcessedMessageUUID)
	assert.Equal(t, 0, res.HistoryIndex)
	assert.True(t, res.Advanced(prev))
}

func TestTransform_MissingWatermarkRestartsFromTop(t *testing.T) {
	res := NewTransformer(nil).Transform(oneTurn(), Watermark{MessageUUID: "rewritten", HistoryIndex: 4})
	assert.Equal(t, NewTurn, res.Kind)
	assert.Equal(t, 0, res.HistoryIndex)
}

func TestTransform_EmptyInput(t *testing.T) {
	res := NewTransformer(nil).Transform(nil, unset)
	assert.Equal(t, NoChange, res.Kind)
	assert.False(t, res.Advanced(unset))
}

func TestTransform_UserOnlyTurn(t *testing.T) {
	res := NewTransformer(nil).Transform([]Message{user("A", "hello", "2025-01-01T10:00:00Z")}, unset)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, RoleUser, res.Entries[0].Role)
}

func TestTransform_SlashCommandUnwrapped(t *testing.T) {
	raw := "<command-message>review is running</command-message>\n<command-name>/review</command-name>\n<command-args>PR 12</command-args>"
	res := NewTransformer(nil).Transform([]Message{user("A", raw, "2025-01-01T10:00:00Z")}, unset)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, "/review PR 12", res.Entries[0].Message)
	assert.Equal(t, raw, res.Entries[0].MessageRaw)
}

func TestUnwrapSlashCommand(t *testing.T) {
	assert.Equal(t, "/clear", unwrapSlashCommand("<command-name>clear</command-name><command-args></command-args>"))
	assert.Equal(t, "plain text", unwrapSlashCommand("plain text"))
}

func TestTransform_ErrorsOnlyTurn(t *testing.T) {
	msgs := []Message{
		user("A", "hi", "2025-01-01T10:00:00Z"),
		apiError("E1", "overloaded", "2025-01-01T10:00:01Z"),
		apiError("E2", "overloaded", "2025-01-01T10:00:03Z"),
	}
	res := NewTransformer(nil).Transform(msgs, unset)

	require.Len(t, res.Entries, 2)
	reply := res.Entries[1]
	assert.Equal(t, "Failed after 2 error(s)", reply.Message)
	require.Len(t, reply.Thoughts, 2)
	for _, th := range reply.Thoughts {
		assert.Equal(t, ThoughtError, th.Type)
		assert.Equal(t, "overloaded", th.Message)
	}
}

func TestTransform_UsageCountedOncePerResponse(t *testing.T) {
	u := &Usage{InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 5}
	b1 := assistant("B1", "part one", "2025-01-01T10:00:01Z")
	b1.MessageID, b1.Usage = "msg_1", u
	b2 := assistant("B2", "part two", "2025-01-01T10:00:02Z")
	b2.MessageID, b2.Usage = "msg_1", u
	b3 := assistant("B3", "other", "2025-01-01T10:00:03Z")
	b3.MessageID, b3.Usage = "msg_2", &Usage{InputTokens: 1, OutputTokens: 2, CacheCreationInputTokens: 3}

	res := NewTransformer(nil).Transform([]Message{user("A", "go", "2025-01-01T10:00:00Z"), b1, b2, b3}, unset)
	reply := res.Entries[1]
	assert.Equal(t, 101, reply.InputTokens)
	assert.Equal(t, 22, reply.OutputTokens)
	assert.Equal(t, 3, reply.CacheCreationInputTokens)
	assert.Equal(t, 5, reply.CacheReadInputTokens)
}

func TestTransform_ResponseTime(t *testing.T) {
	tr := NewTransformer(nil)

	res := tr.Transform(oneTurn(), unset)
	require.NotNil(t, res.Entries[1].ResponseTime)
	assert.InDelta(t, 5.0, *res.Entries[1].ResponseTime, 1e-9)

	skewed := []Message{
		user("A", "q", "2025-01-01T10:00:10Z"),
		assistant("B", "a", "2025-01-01T10:00:00Z"),
	}
	res = tr.Transform(skewed, unset)
	require.NotNil(t, res.Entries[1].ResponseTime)
	assert.Zero(t, *res.Entries[1].ResponseTime)

	malformed := []Message{
		user("A", "q", "yesterday"),
		assistant("B", "a", "2025-01-01T10:00:00Z"),
	}
	res = tr.Transform(malformed, unset)
	assert.Nil(t, res.Entries[1].ResponseTime)
}

func TestTransform_FailedToolResult(t *testing.T) {
	msgs := []Message{
		user("A", "run it", "2025-01-01T10:00:00Z"),
		assistant("B", "", "2025-01-01T10:00:01Z", toolUse("T1", "Bash")),
		toolResult("C", "T1", "exit status 1", "2025-01-01T10:00:02Z", true),
	}
	res := NewTransformer(nil).Transform(msgs, unset)

	reply := res.Entries[1]
	assert.Empty(t, reply.Message)
	require.Len(t, reply.Thoughts, 1)
	assert.Equal(t, ThoughtFailed, reply.Thoughts[0].Status)
	assert.Equal(t, "exit status 1", reply.Thoughts[0].Message)
}

func TestResultText(t *testing.T) {
	blocks := ContentBlock{Type: BlockToolResult, Content: json.RawMessage(`[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]`)}
	assert.Equal(t, "a\nb", blocks.ResultText())

	odd := ContentBlock{Type: BlockToolResult, Content: json.RawMessage(`42`)}
	assert.Equal(t, "42", odd.ResultText())
}

func TestIsFreshUser(t *testing.T) {
	assert.True(t, user("A", "hi", "").IsFreshUser())
	assert.False(t, toolResult("C", "T1", "x", "", false).IsFreshUser())
	assert.False(t, Message{Type: TypeUser, IsCompactSummary: true, Text: "summary"}.IsFreshUser())
	assert.False(t, Message{Type: TypeUser, Text: "<local-command-stdout>ok</local-command-stdout>"}.IsFreshUser())
	assert.False(t, Message{Type: TypeUser, Text: "   "}.IsFreshUser())
}
