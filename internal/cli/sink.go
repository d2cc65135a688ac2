// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sink.go - Terminal display for the line-based chat.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// toolValueWidth caps each argument value in a tool activity line.
const toolValueWidth = 60

// terminalSink prints engine notifications to a terminal or pipe.
//
// In preview mode (an interactive terminal with markdown on) a partial
// answer is shown as a single status line that is replaced on every update,
// and the final answer is rendered as markdown. Otherwise partial text is
// streamed as it arrives and the final answer completes it.
type terminalSink struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *Renderer
	preview  bool
	width    int

	streamed  string          // text already written for the current round
	previewed bool            // a status line is on screen
	shown     map[string]bool // tool call ids already printed
	lastError string
}

func newTerminalSink(out io.Writer, renderer *Renderer, preview bool, width int) *terminalSink {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	return &terminalSink{
		out:      out,
		renderer: renderer,
		preview:  preview,
		width:    width,
		shown:    make(map[string]bool),
	}
}

// ProgressUpdate implements bridge.Sink.
func (s *terminalSink) ProgressUpdate(partial string, snapshot []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partial == "" {
		s.endRound()
		s.printTools(snapshot)
		return
	}

	text := engine.VisiblePartial(partial)
	if s.preview {
		s.showPreview(text)
		return
	}

	if !strings.HasPrefix(text, s.streamed) {
		// The visible text was rewritten; start a fresh line.
		fmt.Fprintln(s.out)
		s.streamed = ""
	}
	fmt.Fprint(s.out, text[len(s.streamed):])
	s.streamed = text
}

// showPreview replaces the status line with the tail of the partial answer.
func (s *terminalSink) showPreview(text string) {
	line := strings.TrimSpace(util.LastLine(strings.TrimSpace(text)))
	if line == "" {
		line = "thinking"
	}
	line = util.TruncateWidth(line, s.width-6)
	fmt.Fprintf(s.out, "\r\033[K%s", DimStyle.Render("... "+line))
	s.previewed = true
}

func (s *terminalSink) clearPreview() {
	if s.previewed {
		fmt.Fprint(s.out, "\r\033[K")
		s.previewed = false
	}
}

// endRound terminates any text written for the current round.
func (s *terminalSink) endRound() {
	s.clearPreview()
	if s.streamed != "" {
		fmt.Fprintln(s.out)
		s.streamed = ""
	}
}

// printTools prints tool calls and failed responses not printed before.
func (s *terminalSink) printTools(snapshot []model.Message) {
	for _, msg := range snapshot {
		switch msg.Role {
		case model.RoleToolCallRequest:
			for _, call := range msg.ToolCalls {
				if s.shown[call.ID] {
					continue
				}
				s.shown[call.ID] = true
				fmt.Fprintln(s.out, "  "+styles.RenderTool(call.Summary(toolValueWidth), false))
			}
		case model.RoleToolResponse:
			key := "resp:" + msg.ToolCallID
			if !msg.IsError || s.shown[key] {
				continue
			}
			s.shown[key] = true
			fmt.Fprintln(s.out, "  "+styles.RenderTool(msg.ToolName+": "+msg.Preview(toolValueWidth), true))
		}
	}
}

// TurnCompleted implements bridge.Sink.
func (s *terminalSink) TurnCompleted(final string, snapshot []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPreview()
	streamed := s.streamed
	s.streamed = ""

	if final == s.lastError {
		// Already printed by Error.
		s.lastError = ""
		if streamed != "" {
			fmt.Fprintln(s.out)
		}
		return
	}
	s.lastError = ""

	if s.preview {
		fmt.Fprintln(s.out)
		fmt.Fprint(s.out, s.renderer.Markdown(final))
		fmt.Fprintln(s.out)
		return
	}

	switch {
	case streamed == "":
		fmt.Fprint(s.out, final)
	case strings.HasPrefix(final, streamed):
		fmt.Fprint(s.out, final[len(streamed):])
	}
	fmt.Fprint(s.out, "\n\n")
}

// HistoryReplaced implements bridge.Sink.
func (s *terminalSink) HistoryReplaced(snapshot []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPreview()
	s.streamed = ""
	s.shown = make(map[string]bool)
	if len(snapshot) <= 1 {
		fmt.Fprintln(s.out, DimStyle.Render("[Conversation cleared]"))
	}
}

// ModelAvailability implements bridge.Sink.
func (s *terminalSink) ModelAvailability(name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPreview()
	if ok {
		fmt.Fprintln(s.out, styles.RenderSuccess("Model "+name+" is installed"))
		return
	}
	fmt.Fprintln(s.out, styles.RenderWarning(fmt.Sprintf("Model %s is not installed. Run: ollama pull %s", name, name)))
}

// Error implements bridge.Sink.
func (s *terminalSink) Error(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endRound()
	s.lastError = message
	fmt.Fprintln(s.out, styles.RenderError(message))
}

// ModelList implements bridge.ModelListSink.
func (s *terminalSink) ModelList(current string, models []ollama.ModelInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPreview()
	printModelTable(s.out, bridge.NewModelEntries(current, models))
}

// printModelTable prints installed models, marking the current one.
func printModelTable(out io.Writer, entries []bridge.ModelEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No models installed. Run: ollama pull <model>"))
		return
	}
	nameWidth := 4
	for _, e := range entries {
		if w := runewidth.StringWidth(e.Name); w > nameWidth {
			nameWidth = w
		}
	}
	for _, e := range entries {
		marker := "  "
		if e.Current {
			marker = "* "
		}
		name := runewidth.FillRight(e.Name, nameWidth)
		if e.Current {
			name = SuccessStyle.Render(name)
		}
		fmt.Fprintf(out, "%s%s  %8s  %-6s  %s\n", marker, name, e.Size, e.Parameters, DimStyle.Render(e.Modified))
	}
}

var _ bridge.Sink = (*terminalSink)(nil)
var _ bridge.ModelListSink = (*terminalSink)(nil)
