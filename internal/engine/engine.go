// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// DefaultMaxRounds bounds consecutive tool-call rounds per submission.
const DefaultMaxRounds = 5

// DefaultRecentFiles is how many recent files are offered to the augmenter.
const DefaultRecentFiles = 5

// emptyAnswer replaces a final answer that is blank after reasoning removal.
const emptyAnswer = "(The model returned an empty response.)"

// exhaustedAnswer is used when the forced final request still asks for tools.
const exhaustedAnswer = "Stopped after reaching the tool round limit without a final answer."

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the inference client the engine drives.
type Backend interface {
	ChatStream(ctx context.Context, modelName string, msgs []model.Message, descs []tools.Descriptor) (*ollama.FragmentStream, error)
	ChatOnce(ctx context.Context, modelName string, msgs []model.Message, descs []tools.Descriptor) (model.Message, error)
	ModelIsAvailable(ctx context.Context, modelName string) bool
}

// Notifier receives outbound presentation events. Snapshots are deep copies.
type Notifier interface {
	ProgressUpdate(partial string, snapshot []model.Message)
	TurnCompleted(final string, snapshot []model.Message)
	HistoryReplaced(snapshot []model.Message)
	ModelAvailability(name string, ok bool)
	Error(message string)
}

// Augmenter builds the text the model sees for a raw prompt.
type Augmenter interface {
	Augment(ctx context.Context, raw string, recentFiles []string) string
}

// RecentFiles is a read-only query over the workspace index.
type RecentFiles interface {
	RecentFiles(n int) []string
}

type nopNotifier struct{}

func (nopNotifier) ProgressUpdate(string, []model.Message) {}
func (nopNotifier) TurnCompleted(string, []model.Message)  {}
func (nopNotifier) HistoryReplaced([]model.Message)        {}
func (nopNotifier) ModelAvailability(string, bool)         {}
func (nopNotifier) Error(string)                           {}

// =============================================================================
// ENGINE
// =============================================================================

// Config configures an Engine.
type Config struct {
	// Model is the initial model name.
	Model string

	// MaxRounds bounds tool rounds per submission (default 5).
	MaxRounds int

	// Streaming selects ChatStream; otherwise every round uses ChatOnce.
	Streaming bool

	// ParallelTools runs the calls of one round concurrently. Responses keep
	// call order either way.
	ParallelTools bool

	// RecentFilesLimit is passed to RecentFiles (default 5).
	RecentFilesLimit int

	// SystemPrompt builds the system message, at start and on every Clear.
	SystemPrompt func() string

	Notifier  Notifier
	Augmenter Augmenter
	Recent    RecentFiles
	Observer  StateObserver
}

// Result summarizes one submission.
type Result struct {
	// Content is the final assistant text (or the error text).
	Content string

	// Rounds counts backend requests, including a forced final one.
	Rounds int

	// ToolCalls counts dispatched calls.
	ToolCalls int

	// Forced is set when the round budget was exhausted.
	Forced bool

	// Abandoned is set when Clear superseded the submission.
	Abandoned bool
}

// Engine drives the agentic conversation loop for one conversation.
//
// SubmitUserTurn runs at most once at a time; Clear, SetModel, State, and
// Snapshot may be called from any goroutine, including mid-stream.
type Engine struct {
	backend  Backend
	registry *tools.Registry
	conv     *model.Conversation
	notifier Notifier

	augmenter    Augmenter
	recent       RecentFiles
	systemPrompt func() string
	observer     StateObserver

	maxRounds   int
	recentLimit int
	streaming   bool
	parallel    bool

	// mu guards the fields below and orders conversation writes against
	// Clear: every write checks the generation under mu.
	mu           sync.Mutex
	state        State
	modelName    string
	modelMissing bool
	generation   uint64
	cancel       context.CancelFunc

	// busyGen is the generation holding the submission slot. Clear frees
	// the slot, so a stale run never blocks the next prompt.
	busy    bool
	busyGen uint64
}

// New creates an engine with a fresh conversation.
func New(backend Backend, registry *tools.Registry, cfg Config) *Engine {
	e := &Engine{
		backend:      backend,
		registry:     registry,
		notifier:     cfg.Notifier,
		augmenter:    cfg.Augmenter,
		recent:       cfg.Recent,
		systemPrompt: cfg.SystemPrompt,
		observer:     cfg.Observer,
		maxRounds:    cfg.MaxRounds,
		recentLimit:  cfg.RecentFilesLimit,
		streaming:    cfg.Streaming,
		parallel:     cfg.ParallelTools,
		modelName:    cfg.Model,
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry()
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.maxRounds <= 0 {
		e.maxRounds = DefaultMaxRounds
	}
	if e.recentLimit <= 0 {
		e.recentLimit = DefaultRecentFiles
	}
	e.conv = model.NewConversation(e.buildSystemPrompt())
	return e
}

// Snapshot returns a deep copy of the conversation.
func (e *Engine) Snapshot() []model.Message {
	return e.conv.Snapshot()
}

// Conversation returns the conversation for read-only inspection.
func (e *Engine) Conversation() *model.Conversation {
	return e.conv
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Model returns the active model name.
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelName
}

// ModelMissing reports whether the active model is known not to be installed.
func (e *Engine) ModelMissing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelMissing
}

// Busy reports whether a submission is running.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitUserTurn appends a user turn and runs the loop until a plain-text
// answer is produced, the round budget forces one, or the backend fails.
// Blank prompts are a no-op. Backend failures are written into the
// assistant message with ErrorPrefix and also returned.
func (e *Engine) SubmitUserTurn(ctx context.Context, rawPrompt string) (result Result, err error) {
	if strings.TrimSpace(rawPrompt) == "" {
		return Result{}, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.generation++
	gen := e.generation
	e.busy, e.busyGen = true, gen
	e.cancel = cancel
	modelName := e.modelName
	e.mu.Unlock()
	defer e.release(gen)

	var recent []string
	if e.recent != nil {
		recent = e.recent.RecentFiles(e.recentLimit)
	}
	augmented := e.augment(runCtx, rawPrompt, recent)

	var userID string
	if gerr := e.guarded(gen, func() error {
		userID = e.conv.AppendUser(augmented)
		return nil
	}); gerr != nil {
		return Result{Abandoned: true}, nil
	}
	log.Printf("ENGINE_SUBMIT | gen=%d model=%s prompt_len=%d augmented_len=%d", gen, modelName, len(rawPrompt), len(augmented))

	run := &turnRun{gen: gen, model: modelName}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("ENGINE_PANIC | gen=%d panic=%v", gen, p)
			err = fmt.Errorf("internal error: %v", p)
			result = e.finishWithError(run, userID, rawPrompt, err)
		}
	}()

	result, err = e.runLoop(runCtx, run)
	if errors.Is(err, errStale) || (err != nil && !e.isCurrent(gen)) {
		log.Printf("ENGINE_ABANDONED | gen=%d", gen)
		return Result{Abandoned: true}, nil
	}
	if err != nil {
		return e.finishWithError(run, userID, rawPrompt, err), err
	}

	e.guarded(gen, func() error {
		return e.conv.RestoreUserPrompt(userID, rawPrompt)
	})
	e.setState(gen, StateIdle)
	log.Printf("ENGINE_DONE | gen=%d rounds=%d tool_calls=%d forced=%t", gen, result.Rounds, result.ToolCalls, result.Forced)
	if e.isCurrent(gen) {
		e.notifier.TurnCompleted(result.Content, e.conv.Snapshot())
	}
	return result, nil
}

// turnRun carries per-submission state through the loop.
type turnRun struct {
	gen       uint64
	model     string
	handle    *model.InProgress
	rounds    int
	toolCalls int
}

// runLoop alternates model requests and tool dispatch.
func (e *Engine) runLoop(ctx context.Context, run *turnRun) (Result, error) {
	descs := e.registry.Describe()
	toolRounds := 0

	for {
		if toolRounds >= e.maxRounds {
			return e.forceFinal(ctx, run)
		}

		if err := e.setState(run.gen, StateAwaitingModelResponse); err != nil {
			return Result{}, err
		}
		run.rounds++
		log.Printf("ENGINE_ROUND | gen=%d round=%d", run.gen, run.rounds)

		var (
			content string
			calls   []model.ToolCall
			err     error
		)
		if e.streaming {
			content, calls, err = e.streamTurn(ctx, run, descs)
		} else {
			content, calls, err = e.batchTurn(ctx, run, descs)
		}
		if err != nil {
			return Result{}, err
		}

		if len(calls) == 0 {
			final, err := e.finishContent(run, content)
			if err != nil {
				return Result{}, err
			}
			return Result{Content: final, Rounds: run.rounds, ToolCalls: run.toolCalls}, nil
		}

		if err := e.runToolRound(ctx, run, calls); err != nil {
			return Result{}, err
		}
		toolRounds++
	}
}

// streamTurn consumes one streamed model turn. Text is written through the
// in-progress handle after every fragment. Tool calls count only while no
// content has been accumulated.
func (e *Engine) streamTurn(ctx context.Context, run *turnRun, descs []tools.Descriptor) (string, []model.ToolCall, error) {
	stream, err := e.backend.ChatStream(ctx, run.model, e.conv.Snapshot(), descs)
	if err != nil {
		return "", nil, e.backendErr(run, err)
	}
	defer stream.Close()

	var (
		buf   strings.Builder
		calls []model.ToolCall
	)
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if !e.isCurrent(run.gen) {
			return "", nil, errStale
		}
		if err != nil {
			return "", nil, e.backendErr(run, err)
		}
		if frag.Done && frag.CompletionTokens > 0 {
			log.Printf("ENGINE_STREAM_DONE | gen=%d tokens=%d tps=%.1f reason=%s",
				run.gen, frag.CompletionTokens, frag.TokensPerSecond(), frag.DoneReason)
		}

		if len(frag.ToolCalls) > 0 && buf.Len() == 0 {
			calls = append(calls, frag.ToolCalls...)
			if err := e.setState(run.gen, StateClassifyingToolCalls); err != nil {
				return "", nil, err
			}
		}
		if frag.Content == "" || len(calls) > 0 {
			continue
		}

		buf.WriteString(frag.Content)
		partial := buf.String()
		if err := e.guarded(run.gen, func() error {
			if run.handle == nil {
				run.handle = e.conv.BeginAssistant()
			}
			return run.handle.Write(partial)
		}); err != nil {
			return "", nil, err
		}
		if err := e.setState(run.gen, StateStreamingText); err != nil {
			return "", nil, err
		}
		e.notifier.ProgressUpdate(partial, e.conv.Snapshot())
	}
	return buf.String(), calls, nil
}

// batchTurn requests one complete model turn.
func (e *Engine) batchTurn(ctx context.Context, run *turnRun, descs []tools.Descriptor) (string, []model.ToolCall, error) {
	msg, err := e.backend.ChatOnce(ctx, run.model, e.conv.Snapshot(), descs)
	if !e.isCurrent(run.gen) {
		return "", nil, errStale
	}
	if err != nil {
		return "", nil, e.backendErr(run, err)
	}
	if msg.HasToolCalls() {
		if err := e.setState(run.gen, StateClassifyingToolCalls); err != nil {
			return "", nil, err
		}
		return "", msg.ToolCalls, nil
	}
	return msg.Content, nil, nil
}

// runToolRound appends the request, dispatches, and appends the responses as
// one contiguous block.
func (e *Engine) runToolRound(ctx context.Context, run *turnRun, calls []model.ToolCall) error {
	calls = normalizeCalls(calls)
	if err := e.guarded(run.gen, func() error {
		_, err := e.conv.AppendToolCallRequest(calls)
		return err
	}); err != nil {
		return err
	}
	if err := e.setState(run.gen, StateDispatchingTools); err != nil {
		return err
	}

	responses := e.DispatchToolCalls(ctx, calls)
	run.toolCalls += len(calls)

	if err := e.guarded(run.gen, func() error {
		return e.conv.AppendToolResponses(responses)
	}); err != nil {
		return err
	}
	e.notifier.ProgressUpdate("", e.conv.Snapshot())
	return nil
}

// forceFinal issues one request without tools and records its text.
func (e *Engine) forceFinal(ctx context.Context, run *turnRun) (Result, error) {
	if err := e.setState(run.gen, StateForcedFinalAnswer); err != nil {
		return Result{}, err
	}
	run.rounds++
	log.Printf("ENGINE_FORCED_FINAL | gen=%d rounds=%d", run.gen, run.rounds)

	msg, err := e.backend.ChatOnce(ctx, run.model, e.conv.Snapshot(), nil)
	if !e.isCurrent(run.gen) {
		return Result{}, errStale
	}
	if err != nil {
		return Result{}, e.backendErr(run, err)
	}

	content := msg.Content
	if msg.HasToolCalls() {
		content = exhaustedAnswer
	}
	final, err := e.finishContent(run, content)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: final, Rounds: run.rounds, ToolCalls: run.toolCalls, Forced: true}, nil
}

// finishContent strips reasoning and makes the text the canonical answer.
func (e *Engine) finishContent(run *turnRun, content string) (string, error) {
	final := StripReasoning(content)
	if strings.TrimSpace(final) == "" {
		final = emptyAnswer
	}
	err := e.guarded(run.gen, func() error {
		if run.handle != nil {
			h := run.handle
			run.handle = nil
			return h.Finish(final)
		}
		e.conv.AppendAssistant(final)
		return nil
	})
	return final, err
}

// finishWithError writes the error into the transcript, restores the raw
// prompt, and notifies. Stale generations are left alone.
func (e *Engine) finishWithError(run *turnRun, userID, rawPrompt string, err error) Result {
	text := ErrorPrefix + err.Error()
	if errors.Is(err, context.Canceled) {
		text = ErrorPrefix + "request cancelled"
	}
	log.Printf("ENGINE_ERROR | gen=%d err=%q", run.gen, err.Error())

	werr := e.guarded(run.gen, func() error {
		if run.handle != nil && run.handle.Valid() {
			h := run.handle
			run.handle = nil
			if ferr := h.Finish(text); ferr == nil {
				return e.conv.RestoreUserPrompt(userID, rawPrompt)
			}
		}
		e.conv.AppendAssistant(text)
		return e.conv.RestoreUserPrompt(userID, rawPrompt)
	})
	if errors.Is(werr, errStale) {
		return Result{Abandoned: true}
	}

	e.setState(run.gen, StateIdle)
	var mn *ModelNotInstalledError
	if errors.As(err, &mn) {
		e.notifier.ModelAvailability(mn.Model, false)
	}
	e.notifier.Error(text)
	e.notifier.TurnCompleted(text, e.conv.Snapshot())
	return Result{Content: text, Rounds: run.rounds, ToolCalls: run.toolCalls}
}

// backendErr classifies an adapter error and records a missing model.
func (e *Engine) backendErr(run *turnRun, err error) error {
	err = classifyBackendError(run.model, err)
	if IsModelNotInstalled(err) {
		e.mu.Lock()
		if e.modelName == run.model {
			e.modelMissing = true
		}
		e.mu.Unlock()
	}
	return err
}

// =============================================================================
// CLEAR / MODEL
// =============================================================================

// Clear truncates the conversation to a freshly built system message. It is
// safe mid-stream: the running submission's generation goes stale, its
// stream is cancelled, and nothing it produces reaches the new history.
func (e *Engine) Clear() {
	prompt := e.buildSystemPrompt()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.busy = false
	e.conv.Reset(prompt)
	from := e.state
	e.state = StateIdle
	e.mu.Unlock()

	if e.observer != nil && from != StateIdle {
		e.observer(from, StateIdle)
	}
	log.Printf("ENGINE_CLEAR | gen=%d", gen)
	e.notifier.HistoryReplaced(e.conv.Snapshot())
}

// SetModel switches to name only if the backend reports it installed. The
// probe is bounded by ollama.ProbeTimeout.
func (e *Engine) SetModel(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("set model: empty name")
	}
	ok := e.CheckModel(ctx, name)
	if !ok {
		return false, &ModelNotInstalledError{Model: name}
	}

	e.mu.Lock()
	prev := e.modelName
	e.modelName = name
	e.modelMissing = false
	e.mu.Unlock()
	log.Printf("ENGINE_MODEL | from=%s to=%s", prev, name)
	return true, nil
}

// CheckModel probes name without switching and publishes the result.
func (e *Engine) CheckModel(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, ollama.ProbeTimeout)
	defer cancel()
	ok := e.backend.ModelIsAvailable(ctx, name)

	e.mu.Lock()
	if name == e.modelName {
		e.modelMissing = !ok
	}
	e.mu.Unlock()
	e.notifier.ModelAvailability(name, ok)
	return ok
}

// =============================================================================
// INTERNAL
// =============================================================================

// guarded runs f under mu if gen is still current.
func (e *Engine) guarded(gen uint64, f func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return errStale
	}
	return f()
}

// release frees the submission slot if gen still holds it.
func (e *Engine) release(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy && e.busyGen == gen {
		e.busy = false
	}
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation
}

// setState records a transition for a current generation.
func (e *Engine) setState(gen uint64, s State) error {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return errStale
	}
	from := e.state
	e.state = s
	e.mu.Unlock()

	if e.observer != nil && from != s {
		e.observer(from, s)
	}
	return nil
}

// augment applies the augmenter, falling back to the raw prompt if it panics.
func (e *Engine) augment(ctx context.Context, raw string, recent []string) (out string) {
	if e.augmenter == nil {
		return raw
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("ENGINE_AUGMENT_PANIC | panic=%v", p)
			out = raw
		}
	}()
	return e.augmenter.Augment(ctx, raw, recent)
}

func (e *Engine) buildSystemPrompt() string {
	if e.systemPrompt == nil {
		return ""
	}
	return e.systemPrompt()
}
