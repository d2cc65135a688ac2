// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Conversation mutations.
var (
	ErrStaleHandle       = errors.New("in-progress message handle is stale")
	ErrEmptyToolCalls    = errors.New("tool call request must carry at least one call")
	ErrUnknownToolCallID = errors.New("tool response does not answer a pending tool call")
	ErrNotUserMessage    = errors.New("message is not a user message")
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered log of messages for one chat panel.
//
// Element 0 is always the system message. Messages are append-only with two
// exceptions: an assistant placeholder may be rewritten through its
// InProgress handle while it is the last element, and a user message may be
// restored to the raw prompt once the turn it started has finished.
//
// A Conversation is safe for concurrent use; Snapshot returns deep copies so
// readers never observe a partial mutation.
type Conversation struct {
	mu        sync.RWMutex
	id        string
	messages  []Message
	createdAt time.Time
	updatedAt time.Time

	// epoch changes on every structural mutation (append, discard, reset) and
	// invalidates outstanding InProgress handles.
	epoch uint64
}

// NewConversation creates a conversation seeded with a system message.
func NewConversation(systemPrompt string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:        generateConversationID(),
		messages:  []Message{NewSystemMessage(systemPrompt)},
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	return c.id
}

// Len returns the number of messages, including the system message.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// UpdatedAt returns the time of the last mutation.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// SystemPrompt returns the content of the system message.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages[0].Content
}

// Snapshot returns a deep copy of every message.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Last returns a copy of the last message.
func (c *Conversation) Last() Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages[len(c.messages)-1].Clone()
}

// =============================================================================
// APPENDS
// =============================================================================

// AppendUser appends a user message and returns its ID.
func (c *Conversation) AppendUser(content string) string {
	msg := NewUserMessage(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
	return msg.ID
}

// AppendAssistant appends a finished assistant message.
func (c *Conversation) AppendAssistant(content string) Message {
	msg := NewAssistantMessage(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
	return msg.Clone()
}

// AppendToolCallRequest appends an assistant tool-call request.
func (c *Conversation) AppendToolCallRequest(calls []ToolCall) (Message, error) {
	if len(calls) == 0 {
		return Message{}, ErrEmptyToolCalls
	}
	msg := NewToolCallRequest(calls)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
	return msg.Clone(), nil
}

// AppendToolResponses appends a block of tool responses. Every response must
// answer a distinct call that is still pending; otherwise nothing is appended.
func (c *Conversation) AppendToolResponses(responses []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pendingCallsLocked()
	for _, r := range responses {
		if r.Role != RoleToolResponse {
			return fmt.Errorf("append tool responses: unexpected role %q", r.Role)
		}
		if !pending[r.ToolCallID] {
			return fmt.Errorf("%w: %q", ErrUnknownToolCallID, r.ToolCallID)
		}
		delete(pending, r.ToolCallID)
	}
	for _, r := range responses {
		c.appendLocked(r.Clone())
	}
	return nil
}

// PendingToolCalls returns the IDs of tool calls that have no response yet.
func (c *Conversation) PendingToolCalls() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pending := c.pendingCallsLocked()
	var ids []string
	for _, m := range c.messages {
		for _, tc := range m.ToolCalls {
			if pending[tc.ID] {
				ids = append(ids, tc.ID)
			}
		}
	}
	return ids
}

// RestoreUserPrompt rewrites a user message back to the raw prompt the user
// typed, dropping any context augmentation that was sent to the model.
func (c *Conversation) RestoreUserPrompt(id, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID != id {
			continue
		}
		if c.messages[i].Role != RoleUser {
			return ErrNotUserMessage
		}
		c.messages[i].Content = raw
		c.updatedAt = time.Now()
		return nil
	}
	return fmt.Errorf("restore user prompt: message %s not found", id)
}

// Reset truncates the conversation back to its system message. A non-empty
// systemPrompt replaces the old system content.
func (c *Conversation) Reset(systemPrompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sys := c.messages[0]
	if systemPrompt != "" {
		sys = NewSystemMessage(systemPrompt)
	}
	c.messages = []Message{sys}
	c.epoch++
	c.updatedAt = time.Now()
}

// EstimateTokens estimates the total token count of the conversation.
func (c *Conversation) EstimateTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, m := range c.messages {
		// ~4 tokens of structure per message
		total += m.EstimateTokens() + 4
	}
	return total
}

func (c *Conversation) appendLocked(msg Message) {
	c.messages = append(c.messages, msg)
	c.epoch++
	c.updatedAt = time.Now()
}

func (c *Conversation) pendingCallsLocked() map[string]bool {
	pending := make(map[string]bool)
	for _, m := range c.messages {
		switch m.Role {
		case RoleToolCallRequest:
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
			}
		case RoleToolResponse:
			delete(pending, m.ToolCallID)
		}
	}
	return pending
}

// =============================================================================
// IN-PROGRESS ASSISTANT MESSAGE
// =============================================================================

// InProgress is the only way to mutate an assistant message while it streams.
// The handle goes stale as soon as anything else is appended, the placeholder
// is discarded, or the conversation is reset; writes through a stale handle
// return ErrStaleHandle and leave history untouched.
type InProgress struct {
	conv  *Conversation
	id    string
	epoch uint64
	done  bool
}

// BeginAssistant appends an empty assistant placeholder and returns its handle.
func (c *Conversation) BeginAssistant() *InProgress {
	msg := NewAssistantMessage("")
	msg.InProgress = true
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
	return &InProgress{conv: c, id: msg.ID, epoch: c.epoch}
}

// ID returns the ID of the placeholder message.
func (p *InProgress) ID() string {
	return p.id
}

// Write replaces the placeholder content.
func (p *InProgress) Write(content string) error {
	return p.update(content, false)
}

// Finish writes the final content and closes the handle.
func (p *InProgress) Finish(content string) error {
	return p.update(content, true)
}

// Discard removes the placeholder from the conversation and closes the handle.
func (p *InProgress) Discard() error {
	c := p.conv
	c.mu.Lock()
	defer c.mu.Unlock()
	if !p.validLocked() {
		return ErrStaleHandle
	}
	c.messages = c.messages[:len(c.messages)-1]
	c.epoch++
	c.updatedAt = time.Now()
	p.done = true
	return nil
}

// Valid reports whether the handle may still mutate its message.
func (p *InProgress) Valid() bool {
	p.conv.mu.RLock()
	defer p.conv.mu.RUnlock()
	return p.validLocked()
}

func (p *InProgress) update(content string, finish bool) error {
	c := p.conv
	c.mu.Lock()
	defer c.mu.Unlock()
	if !p.validLocked() {
		return ErrStaleHandle
	}
	last := &c.messages[len(c.messages)-1]
	last.Content = content
	if finish {
		last.InProgress = false
		p.done = true
	}
	c.updatedAt = time.Now()
	return nil
}

func (p *InProgress) validLocked() bool {
	return !p.done && p.epoch == p.conv.epoch && p.conv.messages[len(p.conv.messages)-1].ID == p.id
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + uuid.NewString()
}
