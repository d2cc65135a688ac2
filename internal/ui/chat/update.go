// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/engine"
)

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleResize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if m.state != StateBusy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	// Engine notifications
	case ProgressMsg:
		m.snapshot = msg.Snapshot
		m.partial = msg.Partial
		m.refresh()

	case TurnCompletedMsg:
		m.snapshot = msg.Snapshot
		m.partial = ""
		m.refresh()

	case HistoryReplacedMsg:
		m.snapshot = msg.Snapshot
		m.partial = ""
		m.pending = ""
		m.notes = nil
		m.rendered = make(map[string]string)
		if len(msg.Snapshot) <= 1 {
			m.setStatus("New conversation", false)
		}
		m.refresh()

	case ModelAvailabilityMsg:
		if msg.Name == m.modelName {
			m.modelMissing = !msg.OK
		}
		if !msg.OK {
			m.setStatus(fmt.Sprintf("Model %s is not installed. Run: ollama pull %s", msg.Name, msg.Name), true)
		}

	case ErrorMsg:
		m.setStatus(msg.Message, true)

	// Local results
	case submitDoneMsg:
		m.handleSubmitDone(msg)

	case modelSwitchedMsg:
		if msg.ok {
			m.modelName = msg.name
			m.modelMissing = false
			m.setStatus("Switched to "+msg.name, false)
		}

	case ModelListMsg:
		m.notes = append(m.notes, formatModelList(msg.Current, msg.Models))
		m.refresh()

	case IndexReadyMsg:
		if msg.Err != nil {
			m.setStatus("Index unavailable: "+msg.Err.Error(), true)
		} else if msg.Summary != "" && m.status == "" {
			m.setStatus(msg.Summary, false)
		}
	}

	return m, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	m.input.SetWidth(max(msg.Width-4, 10))
	m.help.Width = msg.Width

	vpHeight := max(msg.Height-chromeHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}

	if m.opts.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.markdownStyle()),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)
		if err == nil {
			m.markdown = r
		}
	}
	m.rendered = make(map[string]string)
	m.refresh()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.state == StateBusy && msg.String() == "ctrl+c" {
			m.stopTurn()
			return m, nil
		}
		m.stopTurn()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.state == StateBusy {
			m.stopTurn()
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submitInput()

	case key.Matches(msg, m.keys.Clear):
		return m, m.clearCmd()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.ScrollTop):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitInput sends the input as a prompt or runs it as a slash command.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if m.state == StateBusy {
		m.setStatus("A response is already in progress. Press Esc to stop it.", true)
		return m, nil
	}
	if m.modelMissing {
		m.setStatus(fmt.Sprintf("Model %s is not installed. Run: ollama pull %s, or pick one with /model", m.modelName, m.modelName), true)
		return m, nil
	}

	m.input.Reset()
	cmd := m.startTurn(text)
	return m, cmd
}

func (m *Model) handleSubmitDone(msg submitDoneMsg) {
	elapsed := time.Since(m.started).Round(100 * time.Millisecond)
	m.state = StateReady
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.pending = ""
	m.partial = ""
	m.refresh()

	switch {
	case msg.err != nil:
		// Errors reach the status line through ErrorMsg.
		if errors.Is(msg.err, bridge.ErrModelMissing) {
			m.modelMissing = true
		}
	case msg.result.Abandoned:
		m.setStatus("Response discarded", false)
	default:
		m.last = msg.result
		if m.statusErr && strings.HasPrefix(msg.result.Content, engine.ErrorPrefix) {
			return
		}
		text := fmt.Sprintf("%d round(s), %d tool call(s), %s", msg.result.Rounds, msg.result.ToolCalls, elapsed)
		if msg.result.Forced {
			text += ", tool budget reached"
		}
		m.setStatus(text, false)
	}
}
