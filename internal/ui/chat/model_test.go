// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeController struct {
	mu        sync.Mutex
	prompts   []string
	block     bool
	installed map[string]bool
	models    []ollama.ModelInfo
	selection string
	clears    int
}

func (f *fakeController) SubmitPrompt(ctx context.Context, text string) (engine.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return engine.Result{Content: engine.ErrorPrefix + "request cancelled"}, ctx.Err()
	}
	return engine.Result{Content: "done", Rounds: 2, ToolCalls: 1}, nil
}

func (f *fakeController) ClearConversation() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func (f *fakeController) SetModel(ctx context.Context, name string) bool {
	return f.installed[name]
}

func (f *fakeController) CheckModelInstalled(ctx context.Context, name string) bool {
	return f.installed[name]
}

func (f *fakeController) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	if f.models == nil {
		return nil, errors.New("ollama is not running")
	}
	return f.models, nil
}

func (f *fakeController) SetSelection(text string) {
	f.mu.Lock()
	f.selection = text
	f.mu.Unlock()
}

func (f *fakeController) Selection() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection
}

func newTestModel(t *testing.T, ctrl *fakeController, opts Options) Model {
	t.Helper()
	if opts.Model == "" {
		opts.Model = "qwen2.5-coder:7b"
	}
	m := New(styles.NewTheme(), ctrl, opts)
	return update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// collect runs cmd and every command of a batch, returning their messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	return m
}

func enter() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyEnter}
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_InitialView(t *testing.T) {
	m := newTestModel(t, &fakeController{}, Options{Root: "/work/project"})

	view := m.View()
	require.Contains(t, view, "rigrun-chat")
	require.Contains(t, view, "qwen2.5-coder:7b")
	require.Contains(t, view, "project")
	require.Contains(t, view, "Ask a question")
	require.Equal(t, StateReady, m.State())
}

func TestModel_InitChecksModel(t *testing.T) {
	ctrl := &fakeController{installed: map[string]bool{}}
	m := New(styles.NewTheme(), ctrl, Options{Model: "missing:1b"})

	var availability *ModelAvailabilityMsg
	for _, msg := range collect(m.Init()) {
		if a, ok := msg.(ModelAvailabilityMsg); ok {
			availability = &a
		}
	}
	require.NotNil(t, availability)
	require.Equal(t, "missing:1b", availability.Name)
	require.False(t, availability.OK)

	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, *availability)
	require.Contains(t, m.View(), "(not installed)")

	m = typeText(t, m, "explain main.go")
	m, cmd := updateCmd(t, m, enter())
	require.Nil(t, cmd)
	require.Equal(t, StateReady, m.State())
	require.Empty(t, ctrl.prompts)
	require.Contains(t, m.status, "ollama pull missing:1b")
}

func TestModel_SubmitPrompt(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(t, ctrl, Options{})

	m = typeText(t, m, "what does @file:main.go do?")
	m, cmd := updateCmd(t, m, enter())
	require.Equal(t, StateBusy, m.State())
	require.Empty(t, m.input.Value())
	require.Contains(t, m.View(), "what does @file:main.go do?")
	require.Contains(t, m.View(), "thinking...")

	var done *submitDoneMsg
	for _, msg := range collect(cmd) {
		if d, ok := msg.(submitDoneMsg); ok {
			done = &d
		}
	}
	require.NotNil(t, done)
	require.Equal(t, []string{"what does @file:main.go do?"}, ctrl.prompts)

	snapshot := []model.Message{
		model.NewMessage(model.RoleSystem, "system"),
		model.NewMessage(model.RoleUser, "what does @file:main.go do?"),
		model.NewMessage(model.RoleAssistant, "It starts the server."),
	}
	m = update(t, m, TurnCompletedMsg{Final: "It starts the server.", Snapshot: snapshot})
	m = update(t, m, *done)

	require.Equal(t, StateReady, m.State())
	require.Contains(t, m.View(), "It starts the server.")
	require.Contains(t, m.status, "2 round(s), 1 tool call(s)")
}

func TestModel_ProgressHidesReasoning(t *testing.T) {
	m := newTestModel(t, &fakeController{}, Options{})
	m = typeText(t, m, "hello")
	m, _ = updateCmd(t, m, enter())

	user := model.NewMessage(model.RoleUser, "hello\n\n<attached context>")
	call := model.Message{
		ID:   "call-msg",
		Role: model.RoleToolCallRequest,
		ToolCalls: []model.ToolCall{{
			ID:        "c1",
			Name:      "read",
			Arguments: `{"file_path":"main.go"}`,
		}},
	}
	failed := model.Message{Role: model.RoleToolResponse, ToolCallID: "c1", ToolName: "read", Content: "file not found", IsError: true}
	snapshot := []model.Message{model.NewMessage(model.RoleSystem, "system"), user, call, failed}

	m = update(t, m, ProgressMsg{Partial: "<think>plan it</think>Hello the", Snapshot: snapshot})
	transcript := m.renderTranscript()
	require.Contains(t, transcript, "Hello the")
	require.NotContains(t, transcript, "plan it")
	require.NotContains(t, transcript, "<attached context>", "prompt is shown as typed while running")
	require.Contains(t, transcript, "read file_path=main.go")
	require.Contains(t, transcript, "read: file not found")

	m = update(t, m, ProgressMsg{Partial: "Done <think>still", Snapshot: snapshot})
	require.NotContains(t, m.renderTranscript(), "still")
}

func TestModel_CancelRunningTurn(t *testing.T) {
	tests := []struct {
		name string
		key  tea.KeyMsg
	}{
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}},
		{"ctrl+c while busy", tea.KeyMsg{Type: tea.KeyCtrlC}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{block: true}
			m := newTestModel(t, ctrl, Options{})
			m = typeText(t, m, "long question")
			m, cmd := updateCmd(t, m, enter())

			results := make(chan []tea.Msg, 1)
			go func() { results <- collect(cmd) }()

			m, quit := updateCmd(t, m, tc.key)
			require.Nil(t, quit, "cancelling must not quit")
			require.Equal(t, "Stopping...", m.status)

			var msgs []tea.Msg
			select {
			case msgs = <-results:
			case <-time.After(5 * time.Second):
				t.Fatal("turn was not cancelled")
			}
			var done submitDoneMsg
			for _, msg := range msgs {
				if d, ok := msg.(submitDoneMsg); ok {
					done = d
				}
			}
			require.ErrorIs(t, done.err, context.Canceled)

			m = update(t, m, done)
			require.Equal(t, StateReady, m.State())
		})
	}
}

func TestModel_QuitWhenIdle(t *testing.T) {
	m := newTestModel(t, &fakeController{}, Options{})
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_BusyRefusesSecondPrompt(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(t, ctrl, Options{})
	m = typeText(t, m, "first")
	m, _ = updateCmd(t, m, enter())

	m = typeText(t, m, "second")
	m, cmd := updateCmd(t, m, enter())
	require.Nil(t, cmd)
	require.True(t, m.statusErr)
	require.Equal(t, "second", m.input.Value())
}

func TestModel_SlashCommands(t *testing.T) {
	ctrl := &fakeController{
		installed: map[string]bool{"llama3.1:8b": true},
		models: []ollama.ModelInfo{
			{Name: "llama3.1:8b", Size: 4_900_000_000, Details: ollama.ModelDetails{ParameterSize: "8B"}},
			{Name: "qwen2.5-coder:7b", Size: 4_700_000_000},
		},
	}
	selections := map[string]string{"main.go:1-2": "package main\n\nfunc main() {}"}
	opts := Options{ReadSelection: func(spec string) (string, error) {
		if text, ok := selections[spec]; ok {
			return text, nil
		}
		return "", errors.New("no such file: " + spec)
	}}

	t.Run("select", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/select main.go:1-2")
		m = update(t, m, enter())
		require.Equal(t, "package main\n\nfunc main() {}", ctrl.Selection())
		require.Contains(t, m.status, "Selected 3 lines")

		m = typeText(t, m, "/select missing.go")
		m = update(t, m, enter())
		require.True(t, m.statusErr)
		require.Contains(t, m.status, "no such file")

		m = typeText(t, m, "/select")
		m = update(t, m, enter())
		require.Empty(t, ctrl.Selection())
	})

	t.Run("model switch", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/model llama3.1:8b")
		m, cmd := updateCmd(t, m, enter())
		for _, msg := range collect(cmd) {
			m = update(t, m, msg)
		}
		require.Equal(t, "llama3.1:8b", m.ModelName())
		require.Contains(t, m.View(), "llama3.1:8b")
	})

	t.Run("model switch refused", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/model nope:1b")
		m, cmd := updateCmd(t, m, enter())
		for _, msg := range collect(cmd) {
			m = update(t, m, msg)
		}
		require.Equal(t, "qwen2.5-coder:7b", m.ModelName())
	})

	t.Run("models", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/models")
		m, cmd := updateCmd(t, m, enter())
		for _, msg := range collect(cmd) {
			m = update(t, m, msg)
		}
		transcript := m.renderTranscript()
		require.Contains(t, transcript, "2 installed model(s)")
		require.Contains(t, transcript, "* qwen2.5-coder:7b")
		require.Contains(t, transcript, "8B")

		m = update(t, m, HistoryReplacedMsg{Snapshot: []model.Message{model.NewMessage(model.RoleSystem, "s")}})
		require.NotContains(t, m.renderTranscript(), "installed model")
		require.Equal(t, "New conversation", m.status)
	})

	t.Run("clear", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/clear")
		_, cmd := updateCmd(t, m, enter())
		collect(cmd)
		require.Equal(t, 1, ctrl.clears)
	})

	t.Run("help and unknown", func(t *testing.T) {
		m := newTestModel(t, ctrl, opts)
		m = typeText(t, m, "/help")
		m = update(t, m, enter())
		require.Contains(t, m.View(), "/select [path[:a-b]]")

		m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
		require.NotContains(t, m.View(), "Press any key")

		m = typeText(t, m, "/frobnicate")
		m = update(t, m, enter())
		require.True(t, m.statusErr)
		require.Contains(t, m.status, "/frobnicate")
	})
}

func TestModel_ErrorsShowInStatusBar(t *testing.T) {
	m := newTestModel(t, &fakeController{}, Options{})
	m = update(t, m, ErrorMsg{Message: "Error: ollama is not running"})
	require.True(t, m.statusErr)
	require.Contains(t, m.View(), "ollama is not running")

	snapshot := []model.Message{
		model.NewMessage(model.RoleUser, "hi"),
		model.NewMessage(model.RoleAssistant, engine.ErrorPrefix+"ollama is not running"),
	}
	m = update(t, m, TurnCompletedMsg{Final: snapshot[1].Content, Snapshot: snapshot})
	require.Contains(t, m.renderTranscript(), "Error: ollama is not running")
}

func TestFormatModelList_Empty(t *testing.T) {
	require.Contains(t, formatModelList("x", nil), "ollama pull")
}

func TestProgramSink(t *testing.T) {
	sink := NewProgramSink()
	// Dropped before Attach.
	sink.Error("early")

	var got []tea.Msg
	sink.Attach(func(msg tea.Msg) { got = append(got, msg) })

	snap := []model.Message{model.NewMessage(model.RoleUser, "hi")}
	sink.ProgressUpdate("par", snap)
	sink.TurnCompleted("final", snap)
	sink.HistoryReplaced(nil)
	sink.ModelAvailability("m", false)
	sink.Error("boom")

	require.Equal(t, []tea.Msg{
		ProgressMsg{Partial: "par", Snapshot: snap},
		TurnCompletedMsg{Final: "final", Snapshot: snap},
		HistoryReplacedMsg{},
		ModelAvailabilityMsg{Name: "m", OK: false},
		ErrorMsg{Message: "boom"},
	}, got)
}

func TestKeyMap_Help(t *testing.T) {
	k := DefaultKeyMap()
	require.NotEmpty(t, k.ShortHelp())
	total := 0
	for _, group := range k.FullHelp() {
		total += len(group)
	}
	require.Equal(t, 10, total)
	require.True(t, strings.Contains(k.Newline.Help().Key, "alt+enter"))
}
