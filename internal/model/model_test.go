// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}

	for _, r := range []Role{"", "tool", "function", "Assistant"} {
		if r.Valid() {
			t.Errorf("Role %q should not be valid", r)
		}
	}
}

func TestRole_DisplayName(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "You"},
		{RoleAssistant, "Assistant"},
		{RoleSystem, "System"},
		{RoleToolCallRequest, "Tool Call"},
		{RoleToolResponse, "Tool"},
		{Role("custom"), "custom"},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			if got := tc.role.DisplayName(); got != tc.want {
				t.Errorf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewToolCallRequest_EmptyContent(t *testing.T) {
	calls := []ToolCall{{ID: "call_1", Name: "glob", Arguments: `{"pattern":"**/*.ts"}`}}
	msg := NewToolCallRequest(calls)

	if msg.Role != RoleToolCallRequest {
		t.Errorf("Role = %q, want %q", msg.Role, RoleToolCallRequest)
	}
	if msg.Content != "" {
		t.Errorf("Content = %q, want empty", msg.Content)
	}
	if !msg.HasToolCalls() {
		t.Error("HasToolCalls should be true")
	}

	// Mutating the input must not leak into the message.
	calls[0].Name = "changed"
	if msg.ToolCalls[0].Name != "glob" {
		t.Error("NewToolCallRequest should copy the call slice")
	}
}

func TestIDs_UniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewUserMessage("hi").ID
		if !strings.HasPrefix(id, "msg_") {
			t.Fatalf("message id %q lacks msg_ prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate message id %q", id)
		}
		seen[id] = true
	}

	a, b := NewConversation("sys"), NewConversation("sys")
	if !strings.HasPrefix(a.ID(), "conv_") || a.ID() == b.ID() {
		t.Errorf("conversation ids %q, %q should be distinct conv_ ids", a.ID(), b.ID())
	}
}

func TestMessage_Clone(t *testing.T) {
	msg := NewToolCallRequest([]ToolCall{{ID: "a", Name: "read"}})
	clone := msg.Clone()
	clone.ToolCalls[0].Name = "write"

	if msg.ToolCalls[0].Name != "read" {
		t.Error("Clone should deep-copy tool calls")
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewUserMessage(tc.content).Preview(tc.maxLen)
			if got != tc.want {
				t.Errorf("Preview(%d) = %q, want %q", tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestToolCall_Summary(t *testing.T) {
	tests := []struct {
		name string
		call ToolCall
		max  int
		want string
	}{
		{"sorted keys", ToolCall{Name: "grep", Arguments: `{"pattern":"func main","path":"cmd"}`}, 40, "grep path=cmd pattern=func main"},
		{"number", ToolCall{Name: "read", Arguments: `{"file_path":"a.go","offset":10}`}, 40, "read file_path=a.go offset=10"},
		{"long value", ToolCall{Name: "write", Arguments: `{"content":"line one\nline two"}`}, 10, "write content=line on..."},
		{"no args", ToolCall{Name: "glob"}, 10, "glob"},
		{"malformed", ToolCall{Name: "read", Arguments: `{"file_path":`}, 40, `read {"file_path":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.call.Summary(tc.max); got != tc.want {
				t.Errorf("Summary() = %q, want %q", got, tc.want)
			}
		})
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation_SystemFirst(t *testing.T) {
	conv := NewConversation("be helpful")

	if conv.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", conv.Len())
	}
	snap := conv.Snapshot()
	if snap[0].Role != RoleSystem || snap[0].Content != "be helpful" {
		t.Errorf("first message = %+v, want system prompt", snap[0])
	}
}

func TestConversation_ResetKeepsSystem(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("one")
	conv.AppendAssistant("two")
	conv.AppendUser("three")

	conv.Reset("")
	if conv.Len() != 1 {
		t.Fatalf("Len() after reset = %d, want 1", conv.Len())
	}
	if conv.SystemPrompt() != "sys" {
		t.Errorf("SystemPrompt() = %q, want %q", conv.SystemPrompt(), "sys")
	}

	conv.Reset("rebuilt")
	if conv.Len() != 1 || conv.SystemPrompt() != "rebuilt" {
		t.Errorf("Reset with prompt: len=%d prompt=%q", conv.Len(), conv.SystemPrompt())
	}
}

func TestConversation_AppendToolCallRequest_Empty(t *testing.T) {
	conv := NewConversation("sys")
	if _, err := conv.AppendToolCallRequest(nil); !errors.Is(err, ErrEmptyToolCalls) {
		t.Errorf("err = %v, want ErrEmptyToolCalls", err)
	}
	if conv.Len() != 1 {
		t.Errorf("Len() = %d, want 1", conv.Len())
	}
}

func TestConversation_ToolResponsesMustMatch(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("go")
	calls := []ToolCall{{ID: "c1", Name: "glob"}, {ID: "c2", Name: "read"}}
	if _, err := conv.AppendToolCallRequest(calls); err != nil {
		t.Fatalf("AppendToolCallRequest: %v", err)
	}

	if got := conv.PendingToolCalls(); len(got) != 2 {
		t.Fatalf("PendingToolCalls() = %v, want 2 ids", got)
	}

	// Unknown id rejects the whole block.
	bad := []Message{
		NewToolResponse(calls[0], "ok", false),
		NewToolResponse(ToolCall{ID: "nope", Name: "x"}, "??", true),
	}
	if err := conv.AppendToolResponses(bad); !errors.Is(err, ErrUnknownToolCallID) {
		t.Fatalf("err = %v, want ErrUnknownToolCallID", err)
	}
	if conv.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (nothing appended)", conv.Len())
	}

	good := []Message{
		NewToolResponse(calls[0], "a", false),
		NewToolResponse(calls[1], "b", false),
	}
	if err := conv.AppendToolResponses(good); err != nil {
		t.Fatalf("AppendToolResponses: %v", err)
	}
	if got := conv.PendingToolCalls(); len(got) != 0 {
		t.Errorf("PendingToolCalls() = %v, want none", got)
	}

	// Answering the same call twice is rejected.
	dup := []Message{NewToolResponse(calls[0], "again", false)}
	if err := conv.AppendToolResponses(dup); !errors.Is(err, ErrUnknownToolCallID) {
		t.Errorf("duplicate answer err = %v, want ErrUnknownToolCallID", err)
	}
}

func TestConversation_RestoreUserPrompt(t *testing.T) {
	conv := NewConversation("sys")
	id := conv.AppendUser("raw\n\n[context] selected code")
	conv.AppendAssistant("answer")

	if err := conv.RestoreUserPrompt(id, "raw"); err != nil {
		t.Fatalf("RestoreUserPrompt: %v", err)
	}
	snap := conv.Snapshot()
	if snap[1].Content != "raw" {
		t.Errorf("user content = %q, want %q", snap[1].Content, "raw")
	}

	if err := conv.RestoreUserPrompt(snap[2].ID, "x"); !errors.Is(err, ErrNotUserMessage) {
		t.Errorf("err = %v, want ErrNotUserMessage", err)
	}
}

func TestConversation_SnapshotIsolation(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("hello")

	snap := conv.Snapshot()
	snap[1].Content = "mutated"

	if conv.Snapshot()[1].Content != "hello" {
		t.Error("Snapshot should not alias conversation storage")
	}
}

// =============================================================================
// IN-PROGRESS HANDLE TESTS
// =============================================================================

func TestInProgress_WriteAndFinish(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("hi")
	h := conv.BeginAssistant()

	if !conv.Last().InProgress {
		t.Error("placeholder should be marked in progress")
	}
	if err := h.Write("par"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if conv.Last().Content != "par" {
		t.Errorf("Last().Content = %q, want %q", conv.Last().Content, "par")
	}
	if err := h.Finish("partial done"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	last := conv.Last()
	if last.InProgress || last.Content != "partial done" {
		t.Errorf("Last() = %+v, want finished message", last)
	}
	if err := h.Write("late"); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Write after Finish err = %v, want ErrStaleHandle", err)
	}
}

func TestInProgress_StaleAfterReset(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("hi")
	h := conv.BeginAssistant()

	conv.Reset("")
	conv.AppendUser("new conversation")
	if err := h.Write("stale fragment"); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("err = %v, want ErrStaleHandle", err)
	}
	for _, m := range conv.Snapshot() {
		if m.Content == "stale fragment" {
			t.Fatal("stale write leaked into new conversation")
		}
	}
}

func TestInProgress_StaleAfterAppend(t *testing.T) {
	conv := NewConversation("sys")
	h := conv.BeginAssistant()
	conv.AppendUser("interleaved")

	if h.Valid() {
		t.Error("handle should be invalid once another message is appended")
	}
	if err := h.Finish("x"); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("err = %v, want ErrStaleHandle", err)
	}
}

func TestInProgress_Discard(t *testing.T) {
	conv := NewConversation("sys")
	conv.AppendUser("hi")
	h := conv.BeginAssistant()

	if err := h.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if conv.Len() != 2 {
		t.Errorf("Len() = %d, want 2", conv.Len())
	}
	if err := h.Discard(); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("second Discard err = %v, want ErrStaleHandle", err)
	}
}

func TestConversation_ConcurrentReaders(t *testing.T) {
	conv := NewConversation("sys")
	h := conv.BeginAssistant()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conv.Snapshot()
			_ = conv.EstimateTokens()
		}()
	}
	for i := 0; i < 50; i++ {
		_ = h.Write("chunk")
	}
	wg.Wait()
}
