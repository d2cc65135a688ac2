// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the kind of a message. The set is closed: backends may call
// these something else on the wire, but that mapping happens in the inference
// adapter and nowhere else.
type Role string

const (
	RoleSystem          Role = "system"
	RoleUser            Role = "user"
	RoleAssistant       Role = "assistant"
	RoleToolCallRequest Role = "assistant_tool_call_request"
	RoleToolResponse    Role = "tool_response"
)

// Roles lists every valid role in canonical order.
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant, RoleToolCallRequest, RoleToolResponse}

// Valid reports whether r is one of the five known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleToolCallRequest, RoleToolResponse:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleToolCallRequest:
		return "Tool Call"
	case RoleToolResponse:
		return "Tool"
	default:
		return string(r)
	}
}

// =============================================================================
// TOOL CALL TYPE
// =============================================================================

// ToolCall is a single tool invocation requested by the model.
// Arguments holds the JSON text of the arguments exactly as the backend sent
// them; decoding happens at dispatch time so malformed input can be reported
// back to the model instead of failing the whole response.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"tool_name"`
	Arguments string `json:"arguments"`
}

// Summary renders the call on one line as name followed by key=value
// arguments in key order, each value cut to maxValue runes. Arguments that
// are not a JSON object are shown raw.
func (c ToolCall) Summary(maxValue int) string {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		raw := strings.TrimSpace(c.Arguments)
		if raw == "" {
			return c.Name
		}
		return c.Name + " " + truncateRunes(raw, maxValue)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Name)
	for _, k := range keys {
		v := fmt.Sprint(args[k])
		if s, ok := args[k].(string); ok {
			v = s
		}
		v = strings.Join(strings.Fields(v), " ")
		fmt.Fprintf(&b, " %s=%s", k, truncateRunes(v, maxValue))
	}
	return b.String()
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Set only on RoleToolCallRequest.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Set only on RoleToolResponse.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	// InProgress marks an assistant placeholder that is still being streamed.
	InProgress bool `json:"in_progress,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a finished assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolCallRequest creates an assistant tool-call request. Content is always
// empty for this role.
func NewToolCallRequest(calls []ToolCall) Message {
	msg := NewMessage(RoleToolCallRequest, "")
	msg.ToolCalls = append([]ToolCall(nil), calls...)
	return msg
}

// NewToolResponse creates the response to a single tool call.
func NewToolResponse(call ToolCall, content string, isError bool) Message {
	msg := NewMessage(RoleToolResponse, content)
	msg.ToolCallID = call.ID
	msg.ToolName = call.Name
	msg.IsError = isError
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// HasToolCalls returns true if the message carries tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	return truncateRunes(strings.TrimSpace(m.Content), maxLen)
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m Message) EstimateTokens() int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return (n + 3) / 4
}

// =============================================================================
// HELPERS
// =============================================================================

func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
