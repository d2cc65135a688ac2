// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// INBOUND COMMANDS
// =============================================================================

// CommandType names an inbound user action.
type CommandType string

const (
	CommandSubmitPrompt        CommandType = "submit_prompt"
	CommandClearConversation   CommandType = "clear_conversation"
	CommandSetModel            CommandType = "set_model"
	CommandCheckModelInstalled CommandType = "check_model_installed"
	CommandSetSelection        CommandType = "set_selection"
	CommandListModels          CommandType = "list_models"
)

// Command is an inbound envelope: {"type": "submit_prompt", "text": "..."}.
type Command struct {
	Type CommandType `json:"type"`

	// Text is the prompt (submit_prompt) or selected text (set_selection).
	Text string `json:"text,omitempty"`

	// Name is the model (set_model, check_model_installed).
	Name string `json:"name,omitempty"`
}

// DecodeCommand parses and validates an inbound envelope.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch cmd.Type {
	case CommandSubmitPrompt, CommandClearConversation, CommandCheckModelInstalled,
		CommandSetSelection, CommandListModels:
	case CommandSetModel:
		if cmd.Name == "" {
			return Command{}, fmt.Errorf("decode command: set_model requires a name")
		}
	case "":
		return Command{}, fmt.Errorf("decode command: missing type")
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return cmd, nil
}

// =============================================================================
// OUTBOUND EVENTS
// =============================================================================

// EventType names an outbound event.
type EventType string

const (
	EventReady             EventType = "ready"
	EventProgressUpdate    EventType = "progress_update"
	EventTurnCompleted     EventType = "turn_completed"
	EventHistoryReplaced   EventType = "history_replaced"
	EventModelAvailability EventType = "model_availability"
	EventError             EventType = "error"
	EventModels            EventType = "models"
)

// Event is an outbound envelope.
type Event struct {
	Type EventType `json:"type"`

	// Text is the partial (progress_update) or final (turn_completed) text.
	Text string `json:"text,omitempty"`

	// History is the full conversation snapshot.
	History []model.Message `json:"history,omitempty"`

	// Name and Available describe a model_availability event.
	Name      string `json:"name,omitempty"`
	Available *bool  `json:"available,omitempty"`

	// Message is the error text.
	Message string `json:"message,omitempty"`

	// Panel and Model describe the session on ready; Model is also the
	// current model in a models event.
	Panel string `json:"panel,omitempty"`
	Model string `json:"model,omitempty"`

	Models []ModelEntry `json:"models,omitempty"`
}

// ModelEntry is one installed model in a models event.
type ModelEntry struct {
	Name       string `json:"name"`
	Size       string `json:"size"`
	Parameters string `json:"parameters,omitempty"`
	Modified   string `json:"modified,omitempty"`
	Current    bool   `json:"current,omitempty"`
}

// NewModelEntries converts a model listing for display.
func NewModelEntries(current string, models []ollama.ModelInfo) []ModelEntry {
	entries := make([]ModelEntry, len(models))
	for i, m := range models {
		entries[i] = ModelEntry{
			Name:       m.Name,
			Size:       humanize.Bytes(uint64(m.Size)),
			Parameters: m.Details.ParameterSize,
			Current:    m.Name == current,
		}
		if !m.ModifiedAt.IsZero() {
			entries[i].Modified = humanize.RelTime(m.ModifiedAt, time.Now(), "ago", "from now")
		}
	}
	return entries
}

// =============================================================================
// EVENT SINK
// =============================================================================

// EventSink converts sink calls into Events for a transport.
type EventSink struct {
	send func(Event) error
}

// NewEventSink returns a sink that passes each event to send. Send errors
// are logged; the transport notices a dead connection on its own.
func NewEventSink(send func(Event) error) *EventSink {
	return &EventSink{send: send}
}

func (s *EventSink) deliver(ev Event) {
	if err := s.send(ev); err != nil {
		log.Printf("BRIDGE_SEND_FAILED | type=%s err=%v", ev.Type, err)
	}
}

// ProgressUpdate implements Sink.
func (s *EventSink) ProgressUpdate(partial string, snapshot []model.Message) {
	s.deliver(Event{Type: EventProgressUpdate, Text: partial, History: snapshot})
}

// TurnCompleted implements Sink.
func (s *EventSink) TurnCompleted(final string, snapshot []model.Message) {
	s.deliver(Event{Type: EventTurnCompleted, Text: final, History: snapshot})
}

// HistoryReplaced implements Sink.
func (s *EventSink) HistoryReplaced(snapshot []model.Message) {
	s.deliver(Event{Type: EventHistoryReplaced, History: snapshot})
}

// ModelAvailability implements Sink.
func (s *EventSink) ModelAvailability(name string, ok bool) {
	s.deliver(Event{Type: EventModelAvailability, Name: name, Available: &ok})
}

// Error implements Sink.
func (s *EventSink) Error(message string) {
	s.deliver(Event{Type: EventError, Message: message})
}

// ModelList implements ModelListSink.
func (s *EventSink) ModelList(current string, models []ollama.ModelInfo) {
	s.deliver(Event{Type: EventModels, Model: current, Models: NewModelEntries(current, models)})
}
