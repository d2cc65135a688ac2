// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrModelMissing is returned when a prompt is submitted while the
	// current model is known not to be installed.
	ErrModelMissing = errors.New("current model is not installed")

	// ErrUnknownCommand is returned by Handle for an unrecognized type.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNoModelLister is returned by ListModels without a lister.
	ErrNoModelLister = errors.New("model listing unavailable")
)

// =============================================================================
// INTERFACES
// =============================================================================

// Sink is the display surface. Snapshots passed to it are deep copies and
// must be treated as read-only.
type Sink interface {
	engine.Notifier
}

// ModelListSink is implemented by sinks that can show a model listing.
type ModelListSink interface {
	ModelList(current string, models []ollama.ModelInfo)
}

// Engine is the conversation engine as seen by the bridge.
type Engine interface {
	SubmitUserTurn(ctx context.Context, rawPrompt string) (engine.Result, error)
	Clear()
	SetModel(ctx context.Context, name string) (bool, error)
	CheckModel(ctx context.Context, name string) bool
	Snapshot() []model.Message
	Model() string
	ModelMissing() bool
	Busy() bool
}

// ModelLister lists installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge relays user actions into one engine and engine events out to the
// current sink. It never mutates the conversation itself.
//
// Bridge implements engine.Notifier; pass it as the engine's Notifier and
// then call Attach.
type Bridge struct {
	mu        sync.RWMutex
	eng       Engine
	sink      Sink
	lister    ModelLister
	selection string

	// submissions tracks prompts started by Handle.
	submissions sync.WaitGroup
}

// New creates a bridge with sink (nil discards events) and an optional lister.
func New(sink Sink, lister ModelLister) *Bridge {
	return &Bridge{sink: sink, lister: lister}
}

// Attach sets the engine the bridge drives.
func (b *Bridge) Attach(eng Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eng = eng
}

// SetSink replaces the sink and replays the current history to it, so a
// reconnecting surface starts from the live conversation.
func (b *Bridge) SetSink(sink Sink) {
	b.mu.Lock()
	b.sink = sink
	eng := b.eng
	b.mu.Unlock()

	if sink != nil && eng != nil {
		b.HistoryReplaced(eng.Snapshot())
	}
}

// ReleaseSink clears the sink only if it is still sink. It returns false
// when a newer surface has already replaced it.
func (b *Bridge) ReleaseSink(sink Sink) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != sink {
		return false
	}
	b.sink = nil
	return true
}

// Selection returns the editor selection last set by SetSelection.
func (b *Bridge) Selection() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selection
}

// SetSelection records the editor's selected text for the next prompt.
func (b *Bridge) SetSelection(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selection = text
}

func (b *Bridge) engine() Engine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eng
}

// =============================================================================
// INBOUND
// =============================================================================

// SubmitPrompt runs one user turn and blocks until it completes. It is
// refused while the current model is known to be missing or another turn is
// running; the refusal is also reported to the sink.
func (b *Bridge) SubmitPrompt(ctx context.Context, text string) (engine.Result, error) {
	eng := b.engine()
	if strings.TrimSpace(text) == "" {
		return engine.Result{}, nil
	}
	if eng.ModelMissing() {
		name := eng.Model()
		b.ModelAvailability(name, false)
		b.Error(fmt.Sprintf("Model %s is not installed. Run `ollama pull %s` or choose another model.", name, name))
		return engine.Result{}, ErrModelMissing
	}

	result, err := eng.SubmitUserTurn(ctx, text)
	if errors.Is(err, engine.ErrBusy) {
		b.Error("A response is already in progress.")
	}
	return result, err
}

// ClearConversation resets the conversation, cancelling any running turn.
func (b *Bridge) ClearConversation() {
	b.engine().Clear()
}

// SetModel switches models if name is installed.
func (b *Bridge) SetModel(ctx context.Context, name string) bool {
	ok, err := b.engine().SetModel(ctx, name)
	if err != nil {
		b.Error(err.Error())
	}
	return ok
}

// CheckModelInstalled probes name and publishes the result.
func (b *Bridge) CheckModelInstalled(ctx context.Context, name string) bool {
	return b.engine().CheckModel(ctx, name)
}

// ListModels returns the installed models and sends them to a sink that
// implements ModelListSink.
func (b *Bridge) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	if b.lister == nil {
		return nil, ErrNoModelLister
	}
	models, err := b.lister.ListModels(ctx)
	if err != nil {
		b.Error("Could not list models: " + err.Error())
		return nil, err
	}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if ls, ok := sink.(ModelListSink); ok {
		ls.ModelList(b.engine().Model(), models)
	}
	return models, nil
}

// Handle dispatches one command. Prompts run in the background so that a
// clear can interrupt them; every other command completes before Handle
// returns. Use Wait to block on background prompts.
func (b *Bridge) Handle(ctx context.Context, cmd Command) error {
	log.Printf("BRIDGE_COMMAND | type=%s", cmd.Type)

	switch cmd.Type {
	case CommandSubmitPrompt:
		b.submissions.Add(1)
		go func() {
			defer b.submissions.Done()
			b.SubmitPrompt(ctx, cmd.Text)
		}()
	case CommandClearConversation:
		b.ClearConversation()
	case CommandSetModel:
		b.SetModel(ctx, cmd.Name)
	case CommandCheckModelInstalled:
		name := cmd.Name
		if name == "" {
			name = b.engine().Model()
		}
		b.CheckModelInstalled(ctx, name)
	case CommandSetSelection:
		b.SetSelection(cmd.Text)
	case CommandListModels:
		b.ListModels(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil
}

// Wait blocks until prompts started by Handle have finished.
func (b *Bridge) Wait() {
	b.submissions.Wait()
}

// =============================================================================
// OUTBOUND
// =============================================================================

// emit forwards to the current sink. A panicking sink is logged and does not
// reach the engine.
func (b *Bridge) emit(event string, f func(Sink)) {
	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("BRIDGE_SINK_PANIC | event=%s panic=%v", event, r)
		}
	}()
	f(sink)
}

// ProgressUpdate implements engine.Notifier.
func (b *Bridge) ProgressUpdate(partial string, snapshot []model.Message) {
	b.emit("progress_update", func(s Sink) { s.ProgressUpdate(partial, snapshot) })
}

// TurnCompleted implements engine.Notifier.
func (b *Bridge) TurnCompleted(final string, snapshot []model.Message) {
	b.emit("turn_completed", func(s Sink) { s.TurnCompleted(final, snapshot) })
}

// HistoryReplaced implements engine.Notifier.
func (b *Bridge) HistoryReplaced(snapshot []model.Message) {
	b.emit("history_replaced", func(s Sink) { s.HistoryReplaced(snapshot) })
}

// ModelAvailability implements engine.Notifier.
func (b *Bridge) ModelAvailability(name string, ok bool) {
	b.emit("model_availability", func(s Sink) { s.ModelAvailability(name, ok) })
}

// Error implements engine.Notifier.
func (b *Bridge) Error(message string) {
	b.emit("error", func(s Sink) { s.Error(message) })
}
