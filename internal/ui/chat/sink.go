// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// ProgramSink turns bridge notifications into tea messages.
//
// Notifications arrive on the goroutine running a Controller call, which
// must never be the program's event loop: Send blocks until Update receives
// the message.
type ProgramSink struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// NewProgramSink returns a sink that drops messages until Attach is called.
func NewProgramSink() *ProgramSink {
	return &ProgramSink{}
}

// Attach sets the delivery function, normally (*tea.Program).Send.
func (s *ProgramSink) Attach(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *ProgramSink) deliver(msg tea.Msg) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

// ProgressUpdate implements bridge.Sink.
func (s *ProgramSink) ProgressUpdate(partial string, snapshot []model.Message) {
	s.deliver(ProgressMsg{Partial: partial, Snapshot: snapshot})
}

// TurnCompleted implements bridge.Sink.
func (s *ProgramSink) TurnCompleted(final string, snapshot []model.Message) {
	s.deliver(TurnCompletedMsg{Final: final, Snapshot: snapshot})
}

// HistoryReplaced implements bridge.Sink.
func (s *ProgramSink) HistoryReplaced(snapshot []model.Message) {
	s.deliver(HistoryReplacedMsg{Snapshot: snapshot})
}

// ModelAvailability implements bridge.Sink.
func (s *ProgramSink) ModelAvailability(name string, ok bool) {
	s.deliver(ModelAvailabilityMsg{Name: name, OK: ok})
}

// Error implements bridge.Sink.
func (s *ProgramSink) Error(message string) {
	s.deliver(ErrorMsg{Message: message})
}

var _ bridge.Sink = (*ProgramSink)(nil)
