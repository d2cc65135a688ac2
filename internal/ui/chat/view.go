// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

const (
	// inputHeight is the number of text rows in the input box.
	inputHeight = 3

	// chromeHeight is everything but the transcript: header, bordered input
	// and status bar.
	chromeHeight = 1 + inputHeight + 2 + 1

	// toolValueWidth caps each argument value in a tool line.
	toolValueWidth = 60
)

// View renders the chat.
func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

// refresh re-renders the transcript, following the bottom when the user has
// not scrolled away from it.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderTranscript())
	if follow || m.state == StateBusy {
		m.viewport.GotoBottom()
	}
}

func (m Model) markdownStyle() string {
	if m.theme.IsDark {
		return "dark"
	}
	return "light"
}

// =============================================================================
// HEADER / INPUT / STATUS
// =============================================================================

func (m Model) renderHeader() string {
	left := m.theme.HeaderTitle.Render("rigrun-chat")
	if m.modelName != "" {
		name := m.theme.HeaderModel.Render(m.modelName)
		if m.modelMissing {
			name = m.theme.ModelMissing.Render(m.modelName + " (not installed)")
		}
		left += "  " + name
	}
	if m.opts.Root != "" && m.theme.GetLayoutMode() != styles.LayoutNarrow {
		left += "  " + m.theme.Dim.Render(filepath.Base(m.opts.Root))
	}

	right := m.theme.Dim.Render("ready")
	if m.state == StateBusy {
		elapsed := time.Since(m.started).Round(time.Second)
		right = m.spinner.View() + " " + m.theme.Dim.Render(fmt.Sprintf("working %s", elapsed))
	}

	inner := max(m.width-2, 0)
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderInput() string {
	style := m.theme.InputBorderFocused
	if m.state == StateBusy {
		style = m.theme.InputBorderBusy
	}
	return style.Width(max(m.width-2, 10)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	if m.status != "" {
		text := runewidth.Truncate(m.status, max(m.width-4, 10), "...")
		if m.statusErr {
			return m.theme.StatusBar.Render(m.theme.ErrorText.Render(text))
		}
		return m.theme.StatusBar.Render(text)
	}
	return m.theme.StatusBar.Render(m.help.ShortHelpView(m.keys.ShortHelp()))
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("rigrun-chat help"))
	b.WriteString("\n\n")
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	b.WriteString("\n\n")
	for _, c := range commandHelp {
		fmt.Fprintf(&b, "  %s  %s\n", m.theme.StatusKey.Render(runewidth.FillRight(c[0], 22)), c[1])
	}
	b.WriteString("\n")
	b.WriteString(m.theme.Dim.Render("  @file:path  @selection  @symbol:Name  @codebase attach context to a prompt"))
	b.WriteString("\n\n")
	b.WriteString(m.theme.Dim.Render("  Press any key to return."))
	return b.String()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m Model) renderTranscript() string {
	width := max(m.width-2, 20)
	lastUser := -1
	if m.pending != "" {
		for i := len(m.snapshot) - 1; i >= 0; i-- {
			if m.snapshot[i].Role == model.RoleUser {
				lastUser = i
				break
			}
		}
	}

	var blocks []string
	for i, msg := range m.snapshot {
		if i == lastUser {
			// The stored prompt carries attached context until the turn ends.
			blocks = append(blocks, m.renderUser(m.pending, width))
			continue
		}
		if block := m.renderMessage(msg, width); block != "" {
			blocks = append(blocks, block)
		}
	}

	if m.state == StateBusy {
		if lastUser < 0 && m.pending != "" {
			blocks = append(blocks, m.renderUser(m.pending, width))
		}
		blocks = append(blocks, m.renderPartial(width))
	}
	blocks = append(blocks, m.notes...)

	if len(blocks) == 0 {
		return m.theme.SystemText.Render("\n  Ask a question about your workspace. F1 shows keys and commands.")
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) renderMessage(msg model.Message, width int) string {
	switch msg.Role {
	case model.RoleUser:
		return m.renderUser(msg.Content, width)

	case model.RoleAssistant:
		if msg.InProgress {
			// Shown by renderPartial.
			return ""
		}
		if strings.HasPrefix(msg.Content, engine.ErrorPrefix) {
			return m.theme.ErrorText.Render(msg.Content)
		}
		return m.theme.AssistantLabel.Render("Assistant") + "\n" + m.renderMarkdown(msg.ID, msg.Content, width)

	case model.RoleToolCallRequest:
		lines := make([]string, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			lines = append(lines, "  "+styles.RenderTool(call.Summary(toolValueWidth), false))
		}
		return strings.Join(lines, "\n")

	case model.RoleToolResponse:
		if !msg.IsError {
			return ""
		}
		return "  " + styles.RenderTool(msg.ToolName+": "+msg.Preview(toolValueWidth), true)

	default:
		return ""
	}
}

func (m Model) renderUser(content string, width int) string {
	return m.theme.UserLabel.Render("You") + "\n" + m.theme.UserText.Width(width).Render(content)
}

func (m Model) renderPartial(width int) string {
	text := strings.TrimSpace(engine.VisiblePartial(m.partial))
	if text == "" {
		return m.theme.AssistantLabel.Render("Assistant") + "\n" + m.theme.Dim.Render("  thinking...")
	}
	return m.theme.AssistantLabel.Render("Assistant") + "\n" + m.theme.AssistantText.Width(width).Render(text)
}

// renderMarkdown renders a finished answer once per message id.
func (m Model) renderMarkdown(id, content string, width int) string {
	if m.markdown == nil {
		return m.theme.AssistantText.Width(width).Render(content)
	}
	if out, ok := m.rendered[id]; ok && id != "" {
		return out
	}
	out, err := m.markdown.Render(content)
	if err != nil {
		return m.theme.AssistantText.Width(width).Render(content)
	}
	out = strings.Trim(out, "\n")
	if id != "" {
		m.rendered[id] = out
	}
	return out
}

// formatModelList renders a /models listing for the transcript.
func formatModelList(current string, models []ollama.ModelInfo) string {
	entries := bridge.NewModelEntries(current, models)
	if len(entries) == 0 {
		return styles.RenderWarning("No models installed. Run: ollama pull <model>")
	}

	nameWidth := 4
	for _, e := range entries {
		if w := runewidth.StringWidth(e.Name); w > nameWidth {
			nameWidth = w
		}
	}
	var b strings.Builder
	b.WriteString(styles.RenderInfo(fmt.Sprintf("%d installed model(s)", len(entries))))
	for _, e := range entries {
		marker := "  "
		if e.Current {
			marker = "* "
		}
		fmt.Fprintf(&b, "\n  %s%s  %8s  %-6s  %s", marker, runewidth.FillRight(e.Name, nameWidth), e.Size, e.Parameters, e.Modified)
	}
	return b.String()
}
