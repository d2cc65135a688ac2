// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-based interactive chat.
//
// Command: chat
// Aliases: repl
//
// Examples:
//   rigrun-chat chat                       Chat with the configured model
//   rigrun-chat chat --model qwen2.5:14b   Start with a specific model
//   echo "explain @file:main.go" | rigrun-chat chat
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /model [name]       Show or switch model
//   /models             List installed models
//   /select [path[:a-b]] Use file lines as the editor selection
//   /status, /s         Show session statistics
//   /history            Show conversation history
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/config"
	ctxpkg "github.com/jeranaias/rigrun-chat/internal/context"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	summaryHeaderStyle = lipgloss.NewStyle().
				Foreground(styles.Cyan).
				Bold(true)
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history, line editing and tab completion.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history kept in the config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeInput)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// completeInput completes slash commands and @ mentions.
func completeInput(line string) []string {
	var out []string
	if strings.HasPrefix(line, "/") && !strings.Contains(line, " ") {
		for _, cmd := range slashCommands {
			if strings.HasPrefix(cmd, line) {
				out = append(out, cmd)
			}
		}
		return out
	}

	at := strings.LastIndex(line, "@")
	if at < 0 || strings.ContainsAny(line[at:], " \t") {
		return nil
	}
	for _, prefix := range ctxpkg.MentionPrefixes() {
		if strings.HasPrefix(prefix, line[at:]) {
			out = append(out, line[:at]+prefix)
		}
	}
	return out
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history, readable only by the owner.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// pipeReader reads prompts from a non-interactive stdin, one per line.
type pipeReader struct {
	scanner *bufio.Scanner
}

func newPipeReader(r io.Reader) *pipeReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &pipeReader{scanner: s}
}

func (p *pipeReader) ReadInput(string) (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *pipeReader) Close() {}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state of one interactive chat.
type ChatSession struct {
	rt       *app.Runtime
	bridge   *bridge.Bridge
	engine   *engine.Engine
	sink     *terminalSink
	renderer *Renderer
	input    lineReader
	out      io.Writer
	quiet    bool

	// Tracking
	startTime time.Time
	turns     int
	toolCalls int
	forced    int

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// chatOptions configures a ChatSession.
type chatOptions struct {
	Quiet    bool
	Preview  bool
	Markdown bool
	Color    bool
	Width    int
}

func newChatSession(rt *app.Runtime, input lineReader, out io.Writer, opts chatOptions) *ChatSession {
	renderer := NewRenderer(opts.Markdown, opts.Width, opts.Color)
	sink := newTerminalSink(out, renderer, opts.Preview && opts.Markdown, opts.Width)
	b, eng := rt.NewBridge(sink)
	return &ChatSession{
		rt:        rt,
		bridge:    b,
		engine:    eng,
		sink:      sink,
		renderer:  renderer,
		input:     input,
		out:       out,
		quiet:     opts.Quiet,
		startTime: time.Now(),
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat until the user quits.
func HandleChat(rt *app.Runtime, args Args) error {
	ctx := context.Background()
	if err := rt.Client.CheckRunning(ctx); err != nil {
		return WrapError(err, "cannot reach Ollama at "+rt.Client.BaseURL())
	}

	interactive := IsTTY()
	var input lineReader
	if interactive {
		input = NewChatCLI()
	} else {
		input = newPipeReader(os.Stdin)
	}
	defer input.Close()

	cfg := rt.Config
	session := newChatSession(rt, input, os.Stdout, chatOptions{
		Quiet:    args.Quiet,
		Preview:  IsStdoutTTY(),
		Markdown: cfg.UI.Markdown,
		Color:    ColorsEnabled(),
		Width:    wrapWidth(cfg.UI.WordWrap),
	})

	go func() {
		if err := rt.BuildIndex(ctx); err != nil {
			fmt.Fprintln(os.Stderr, styles.RenderWarning("Workspace index unavailable: "+err.Error()))
		}
	}()

	// Ctrl+C during generation cancels it; at the prompt liner handles it.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.cancelCurrent() {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	return session.Run(ctx)
}

func wrapWidth(configured int) int {
	if configured > 0 {
		return configured
	}
	return GetTerminalWidth() - 2
}

// Run is the read-eval-print loop.
func (s *ChatSession) Run(ctx context.Context) error {
	if !s.quiet {
		s.printWelcome()
	}
	s.bridge.CheckModelInstalled(ctx, s.engine.Model())

	for {
		input, err := s.input.ReadInput(promptStyle.Render("chat> "))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			fmt.Fprintln(s.out)
			s.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !s.handleSlashCommand(ctx, input) {
				s.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			s.printExitSummary()
			return nil
		}

		s.processMessage(ctx, input)
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage runs one turn. The sink prints the answer and any error.
func (s *ChatSession) processMessage(ctx context.Context, input string) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelFunc = nil
		s.mu.Unlock()
		cancel()
	}()

	fmt.Fprintln(s.out)
	result, err := s.bridge.SubmitPrompt(runCtx, input)
	if err != nil {
		return
	}
	s.turns++
	s.toolCalls += result.ToolCalls
	if result.Forced {
		s.forced++
	}
}

// cancelCurrent cancels a running generation. It reports whether one was running.
func (s *ChatSession) cancelCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFunc == nil {
		return false
	}
	s.cancelFunc()
	s.cancelFunc = nil
	return true
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a slash command and reports whether to keep going.
func (s *ChatSession) handleSlashCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch cmd {
	case "/help", "/h", "/?":
		s.printHelp()

	case "/clear", "/c":
		s.bridge.ClearConversation()
		s.turns, s.toolCalls, s.forced = 0, 0, 0

	case "/model", "/m":
		if arg == "" {
			fmt.Fprintf(s.out, "Current model: %s\n", commandStyle.Render(s.engine.Model()))
			s.bridge.CheckModelInstalled(ctx, s.engine.Model())
			return true
		}
		if s.bridge.SetModel(ctx, arg) {
			fmt.Fprintln(s.out, styles.RenderSuccess("Switched to "+arg))
		}

	case "/models":
		s.bridge.ListModels(ctx)

	case "/select", "/selection":
		s.handleSelect(arg)

	case "/status", "/s":
		s.printStatus()

	case "/history":
		s.printHistory()

	case "/quit", "/q", "/exit":
		return false

	default:
		msg := fmt.Sprintf("Unknown command: %s", cmd)
		if suggestion := SuggestSlashCommand(cmd); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
		fmt.Fprintln(s.out, styles.RenderWarning(msg))
		fmt.Fprintln(s.out, infoStyle.Render("Type /help for available commands."))
	}
	return true
}

// handleSelect sets the selection used by @selection from a file range.
func (s *ChatSession) handleSelect(arg string) {
	if arg == "" {
		s.bridge.SetSelection("")
		fmt.Fprintln(s.out, infoStyle.Render("Selection cleared."))
		return
	}
	text, err := ctxpkg.ReadSelection(s.rt.Workspace, arg)
	if err != nil {
		fmt.Fprintln(s.out, styles.RenderError(err.Error()))
		return
	}
	s.bridge.SetSelection(text)
	lines := strings.Count(text, "\n") + 1
	fmt.Fprintln(s.out, styles.RenderSuccess(fmt.Sprintf("Selected %d lines from %s; mention it with @selection", lines, arg)))
}

// =============================================================================
// DISPLAY
// =============================================================================

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, welcomeStyle.Render("rigrun-chat"))
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render("Model:    "), s.engine.Model())
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render("Workspace:"), s.rt.Workspace.Root)
	fmt.Fprintln(s.out, infoStyle.Render("Type /help for commands, @file:path to attach a file, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, summaryHeaderStyle.Render("Commands"))
	help := [][2]string{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Start a new conversation"},
		{"/model [name]", "Show or switch the model"},
		{"/models", "List installed models"},
		{"/select [path[:a-b]]", "Use file lines as the selection (empty clears)"},
		{"/status, /s", "Session statistics"},
		{"/history", "Show the conversation"},
		{"/quit, /q", "Exit"},
	}
	for _, h := range help {
		fmt.Fprintf(s.out, "  %-22s %s\n", commandStyle.Render(h[0]), h[1])
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, summaryHeaderStyle.Render("Mentions"))
	mentions := [][2]string{
		{"@file:path", "Attach a workspace file"},
		{"@selection", "Attach the current selection"},
		{"@symbol:Name", "Attach a declaration from the index"},
		{"@codebase", "Attach a workspace overview"},
	}
	for _, m := range mentions {
		fmt.Fprintf(s.out, "  %-22s %s\n", commandStyle.Render(m[0]), m[1])
	}
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printStatus() {
	snapshot := s.engine.Snapshot()
	tokens := 0
	for _, m := range snapshot {
		tokens += m.EstimateTokens()
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, summaryHeaderStyle.Render("Session"))
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Model", 14), s.engine.Model())
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("State", 14), s.engine.State())
	fmt.Fprintf(s.out, "  %s %d\n", RenderLabel("Messages", 14), len(snapshot))
	fmt.Fprintf(s.out, "  %s ~%d\n", RenderLabel("Tokens", 14), tokens)
	fmt.Fprintf(s.out, "  %s %d (%d forced)\n", RenderLabel("Turns", 14), s.turns, s.forced)
	fmt.Fprintf(s.out, "  %s %d\n", RenderLabel("Tool calls", 14), s.toolCalls)
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Duration", 14), time.Since(s.startTime).Round(time.Second))
	fmt.Fprintf(s.out, "  %s %s ago\n", RenderLabel("Last change", 14), time.Since(s.engine.Conversation().UpdatedAt()).Round(time.Second))
	if s.rt.Index != nil {
		fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Index", 14), s.rt.Index.Stats())
	}
	if sel := s.bridge.Selection(); sel != "" {
		fmt.Fprintf(s.out, "  %s %d lines\n", RenderLabel("Selection", 14), strings.Count(sel, "\n")+1)
	}
	fmt.Fprintln(s.out)
}

// printHistory prints every message after the system prompt.
func (s *ChatSession) printHistory() {
	snapshot := s.engine.Snapshot()
	if len(snapshot) <= 1 {
		fmt.Fprintln(s.out, infoStyle.Render("No messages yet."))
		return
	}

	fmt.Fprintln(s.out)
	for i, msg := range snapshot[1:] {
		label := fmt.Sprintf("[%d] %s:", i+1, msg.Role.DisplayName())
		switch msg.Role {
		case model.RoleToolCallRequest:
			fmt.Fprintln(s.out, infoStyle.Render(label))
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(s.out, "    %s %s\n", commandStyle.Render(call.Name),
					strings.TrimRight(s.renderer.Highlight(call.Arguments, "json"), "\n"))
			}
		case model.RoleToolResponse:
			preview := msg.ToolName + ": " + msg.Preview(100)
			if msg.IsError {
				preview = styles.RenderError(preview)
			}
			fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render(label), preview)
		case model.RoleUser:
			fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render(label),
				ctxpkg.HighlightMentions(msg.Preview(100), func(m string) string { return commandStyle.Render(m) }))
		default:
			fmt.Fprintf(s.out, "%s %s\n", infoStyle.Render(label), msg.Preview(100))
		}
	}
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printExitSummary() {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.out, summaryHeaderStyle.Render("Session summary"))
	fmt.Fprintf(s.out, "  %d turns, %d tool calls, %s\n",
		s.turns, s.toolCalls, time.Since(s.startTime).Round(time.Second))
}
