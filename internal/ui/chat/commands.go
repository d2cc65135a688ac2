// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// commandHelp lists the slash commands for the help screen.
var commandHelp = [][2]string{
	{"/help", "Show keys and commands"},
	{"/clear", "Start a new conversation"},
	{"/model [name]", "Show or switch the model"},
	{"/models", "List installed models"},
	{"/select [path[:a-b]]", "Use file lines as @selection (empty clears)"},
	{"/quit", "Exit"},
}

// runCommand executes a slash command typed into the input.
func (m Model) runCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch cmd {
	case "/help", "/h", "/?":
		m.showHelp = true
		return m, nil

	case "/clear", "/c", "/new":
		return m, m.clearCmd()

	case "/model", "/m":
		if arg == "" {
			m.setStatus("Current model: "+m.modelName, false)
			return m, m.checkModelCmd(m.modelName)
		}
		if m.state == StateBusy {
			m.setStatus("Wait for the response to finish before switching models.", true)
			return m, nil
		}
		m.setStatus("Checking "+arg+"...", false)
		return m, m.setModelCmd(arg)

	case "/models":
		return m, m.listModelsCmd()

	case "/select", "/selection":
		m.handleSelect(arg)
		return m, nil

	case "/quit", "/q", "/exit":
		m.stopTurn()
		return m, tea.Quit

	default:
		m.setStatus(fmt.Sprintf("Unknown command: %s (type /help)", cmd), true)
		return m, nil
	}
}

// handleSelect sets the text referenced by @selection.
func (m *Model) handleSelect(arg string) {
	if arg == "" {
		m.ctrl.SetSelection("")
		m.setStatus("Selection cleared", false)
		return
	}
	if m.opts.ReadSelection == nil {
		m.setStatus("Selections are not available", true)
		return
	}
	text, err := m.opts.ReadSelection(arg)
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.ctrl.SetSelection(text)
	lines := strings.Count(text, "\n") + 1
	m.setStatus(fmt.Sprintf("Selected %d lines from %s; mention it with @selection", lines, arg), false)
}
