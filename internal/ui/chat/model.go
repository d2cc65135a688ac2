// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the bridge as seen by the chat. *bridge.Bridge satisfies it.
//
// Calls that notify the sink are only made from tea.Cmd goroutines.
type Controller interface {
	SubmitPrompt(ctx context.Context, text string) (engine.Result, error)
	ClearConversation()
	SetModel(ctx context.Context, name string) bool
	CheckModelInstalled(ctx context.Context, name string) bool
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	SetSelection(text string)
	Selection() string
}

// Options configures the chat.
type Options struct {
	// Model is the model the engine starts with.
	Model string

	// Root is the workspace root shown in the header.
	Root string

	// Markdown renders assistant answers with glamour.
	Markdown bool

	// ReadSelection resolves a /select argument to text. Nil disables /select.
	ReadSelection func(spec string) (string, error)
}

// =============================================================================
// STATE
// =============================================================================

// State represents the current state of the chat.
type State int

const (
	StateReady State = iota // waiting for input
	StateBusy               // a turn is running
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the full-screen chat.
type Model struct {
	theme *styles.Theme
	ctrl  Controller
	opts  Options
	keys  KeyMap
	help  help.Model

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	markdown *glamour.TermRenderer
	rendered map[string]string // markdown by message id

	width  int
	height int
	ready  bool

	state   State
	cancel  context.CancelFunc
	started time.Time
	pending string // prompt as typed, shown while the turn runs
	partial string

	snapshot []model.Message
	notes    []string // local output such as /models, cleared on the next prompt

	modelName    string
	modelMissing bool
	status       string
	statusErr    bool
	showHelp     bool
	last         engine.Result
}

// New creates the chat model.
func New(theme *styles.Theme, ctrl Controller, opts Options) Model {
	if theme == nil {
		theme = styles.NewTheme()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about your code. @file:path attaches a file, /help lists commands."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sp := spinner.New(
		spinner.WithSpinner(styles.BrailleSpinner),
		spinner.WithStyle(theme.AssistantLabel),
	)

	return Model{
		theme:     theme,
		ctrl:      ctrl,
		opts:      opts,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		input:     ta,
		spinner:   sp,
		rendered:  make(map[string]string),
		state:     StateReady,
		modelName: opts.Model,
	}
}

// Init starts the cursor blink and checks the configured model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.checkModelCmd(m.modelName))
}

// State returns the current chat state.
func (m Model) State() State {
	return m.state
}

// ModelName returns the model shown in the header.
func (m Model) ModelName() string {
	return m.modelName
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) submitCmd(ctx context.Context, text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		result, err := ctrl.SubmitPrompt(ctx, text)
		return submitDoneMsg{result: result, err: err}
	}
}

func (m Model) checkModelCmd(name string) tea.Cmd {
	if name == "" {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ok := ctrl.CheckModelInstalled(ctx, name)
		return ModelAvailabilityMsg{Name: name, OK: ok}
	}
}

func (m Model) setModelCmd(name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return modelSwitchedMsg{name: name, ok: ctrl.SetModel(ctx, name)}
	}
}

func (m Model) listModelsCmd() tea.Cmd {
	ctrl := m.ctrl
	current := m.modelName
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		models, err := ctrl.ListModels(ctx)
		if err != nil {
			// The bridge already reported it.
			return nil
		}
		return ModelListMsg{Current: current, Models: models}
	}
}

func (m Model) clearCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.ClearConversation()
		return nil
	}
}

// startTurn moves to StateBusy and returns the command running text.
func (m *Model) startTurn(text string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.state = StateBusy
	m.cancel = cancel
	m.started = time.Now()
	m.pending = text
	m.partial = ""
	m.notes = nil
	m.status = ""
	m.statusErr = false
	log.Printf("TUI_SUBMIT | chars=%d", len(text))

	m.refresh()
	return tea.Batch(m.spinner.Tick, m.submitCmd(ctx, text))
}

// stopTurn cancels the running turn, if any.
func (m *Model) stopTurn() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.setStatus("Stopping...", false)
	}
}

func (m *Model) setStatus(text string, isError bool) {
	m.status = text
	m.statusErr = isError
}
