// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// ROLE MAPPING
// =============================================================================

// Wire role names.
const (
	wireSystem    = "system"
	wireUser      = "user"
	wireAssistant = "assistant"
	wireTool      = "tool"
)

// ToWireMessages converts conversation messages to the backend's role
// vocabulary. Tool-call requests become assistant messages carrying
// tool_calls; tool responses become "tool" messages. In-progress assistant
// placeholders are skipped.
func ToWireMessages(msgs []model.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.InProgress {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			out = append(out, Message{Role: wireSystem, Content: m.Content})
		case model.RoleUser:
			out = append(out, Message{Role: wireUser, Content: m.Content})
		case model.RoleAssistant:
			out = append(out, Message{Role: wireAssistant, Content: m.Content})
		case model.RoleToolCallRequest:
			calls := make([]ToolCall, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				calls[i] = ToolCall{
					ID:   c.ID,
					Type: "function",
					Function: ToolFunction{
						Index:     i,
						Name:      c.Name,
						Arguments: encodeArguments(c.Arguments),
					},
				}
			}
			out = append(out, Message{Role: wireAssistant, ToolCalls: calls})
		case model.RoleToolResponse:
			out = append(out, Message{
				Role:       wireTool,
				Content:    m.Content,
				ToolName:   m.ToolName,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

// FromWireToolCalls converts backend tool calls to conversation tool calls.
// Calls without an id get a generated one so responses can be matched.
func FromWireToolCalls(calls []ToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		out[i] = model.ToolCall{
			ID:        id,
			Name:      c.Function.Name,
			Arguments: decodeArguments(c.Function.Arguments),
		}
	}
	return out
}

// FromWireMessage converts a complete backend reply into a conversation
// message: a tool-call request when tool calls are present, otherwise a
// plain assistant message.
func FromWireMessage(m Message) model.Message {
	if len(m.ToolCalls) > 0 {
		return model.NewToolCallRequest(FromWireToolCalls(m.ToolCalls))
	}
	return model.NewAssistantMessage(m.Content)
}

// ToWireTools converts registry descriptors to the function-calling schema.
func ToWireTools(descs []tools.Descriptor) []Tool {
	if len(descs) == 0 {
		return nil
	}
	out := make([]Tool, len(descs))
	for i, d := range descs {
		props := make(map[string]ToolProperty, len(d.Parameters.Properties))
		for name, p := range d.Parameters.Properties {
			props[name] = ToolProperty{
				Type:        p.Type,
				Description: p.Description,
				Enum:        p.Enum,
				Default:     p.Default,
			}
		}
		out[i] = Tool{
			Type: "function",
			Function: ToolSchema{
				Name:        d.Name,
				Description: d.Description,
				Parameters: ToolParameters{
					Type:       d.Parameters.Type,
					Properties: props,
					Required:   d.Parameters.Required,
				},
			},
		}
	}
	return out
}

// decodeArguments returns the JSON text of a call's arguments. A JSON string
// is unwrapped once so that string-encoded objects reach the engine as the
// object text; anything else is passed through verbatim for the engine to
// validate.
func decodeArguments(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// rawArgumentsKey holds argument text that was not a JSON object.
const rawArgumentsKey = "_raw"

// encodeArguments is the inverse of decodeArguments for outbound history.
// Ollama decodes arguments into a map, so anything that is not a JSON object
// is wrapped as {"_raw": text}, or sent as {} when empty.
func encodeArguments(args string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(args))
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	var obj map[string]interface{}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &obj) == nil && obj != nil {
		return json.RawMessage(trimmed)
	}
	b, err := json.Marshal(map[string]string{rawArgumentsKey: args})
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
