// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// scriptedReader returns its lines in order, then io.EOF.
type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) ReadInput(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Close() {}

// scriptedBackend streams one tool call on the first round, then answers.
type scriptedBackend struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fail    error
}

func (b *scriptedBackend) ChatStream(_ context.Context, _ string, msgs []model.Message, _ []tools.Descriptor) (*ollama.FragmentStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	b.calls++
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			b.prompts = append(b.prompts, msgs[i].Content)
			break
		}
	}
	if b.calls%2 == 1 {
		return ollama.NewStaticStream(ollama.Fragment{
			ToolCalls: []model.ToolCall{{ID: "call_1", Name: "read", Arguments: `{"file_path":"server.go"}`}},
			Done:      true,
		}), nil
	}
	return ollama.NewStaticStream(
		ollama.Fragment{Content: "<think>look at it</think>"},
		ollama.Fragment{Content: "NewServer builds "},
		ollama.Fragment{Content: "a server.", Done: true},
	), nil
}

func (b *scriptedBackend) ChatOnce(context.Context, string, []model.Message, []tools.Descriptor) (model.Message, error) {
	return model.NewAssistantMessage("forced"), nil
}

func (b *scriptedBackend) ModelIsAvailable(context.Context, string) bool { return true }

// =============================================================================
// SINK
// =============================================================================

func TestTerminalSink_Streaming(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out, NewRenderer(false, 80, false), false, 80)

	sink.ProgressUpdate("<think>hmm", nil)
	sink.ProgressUpdate("<think>hmm</think>Hel", nil)
	sink.ProgressUpdate("<think>hmm</think>Hello", nil)
	sink.TurnCompleted("Hello world", nil)

	require.Equal(t, "Hello world\n\n", out.String())
}

func TestTerminalSink_ToolsPrintedOnce(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out, NewRenderer(false, 80, false), false, 80)

	call := model.ToolCall{ID: "c1", Name: "grep", Arguments: `{"pattern":"TODO"}`}
	snapshot := []model.Message{
		model.NewSystemMessage("sys"),
		model.NewUserMessage("find todos"),
		model.NewToolCallRequest([]model.ToolCall{call}),
		model.NewToolResponse(call, "no such directory", true),
	}
	sink.ProgressUpdate("", snapshot)
	sink.ProgressUpdate("", snapshot)

	require.Equal(t, 1, strings.Count(out.String(), "grep pattern=TODO"))
	require.Equal(t, 1, strings.Count(out.String(), "no such directory"))
}

func TestTerminalSink_ErrorNotRepeated(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out, NewRenderer(false, 80, false), false, 80)

	sink.ProgressUpdate("partial", nil)
	sink.Error("Error: boom")
	sink.TurnCompleted("Error: boom", nil)

	require.Equal(t, 1, strings.Count(out.String(), "Error: boom"))
}

func TestTerminalSink_ClearedAndModelMessages(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out, NewRenderer(false, 80, false), false, 80)

	sink.HistoryReplaced([]model.Message{model.NewSystemMessage("sys")})
	sink.ModelAvailability("codellama", false)

	require.Contains(t, out.String(), "[Conversation cleared]")
	require.Contains(t, out.String(), "Run: ollama pull codellama")
}

// =============================================================================
// SESSION
// =============================================================================

func TestChatSession_Run(t *testing.T) {
	backend := &scriptedBackend{}
	rt := openTestRuntime(t, backend, true)
	reader := &scriptedReader{lines: []string{
		"/select server.go:4",
		"what does @selection do?",
		"/status",
		"/hepl",
		"/clear",
		"exit",
		"never read",
	}}

	var out bytes.Buffer
	session := newChatSession(rt, reader, &out, chatOptions{Quiet: true, Width: 80})
	require.NoError(t, session.Run(context.Background()))

	got := out.String()
	require.Contains(t, got, "Selected 1 lines from server.go:4")
	require.Contains(t, got, "read file_path=server.go")
	require.Contains(t, got, "NewServer builds a server.")
	require.NotContains(t, got, "look at it")
	require.Contains(t, got, "did you mean /help?")
	require.Contains(t, got, "[Conversation cleared]")
	require.Equal(t, []string{"never read"}, reader.lines)

	require.Equal(t, 0, session.turns, "/clear resets the counters")
	require.Equal(t, 2, backend.calls)
	require.Len(t, backend.prompts, 2)
	require.Contains(t, backend.prompts[0], "func NewServer(addr string)")
}

func TestChatSession_BackendError(t *testing.T) {
	backend := &scriptedBackend{fail: &ollama.ClientError{Type: ollama.ErrTypeNotRunning, Message: "Ollama is not running", Cause: errors.New("refused")}}
	rt := openTestRuntime(t, backend, true)
	reader := &scriptedReader{lines: []string{"hello"}}

	var out bytes.Buffer
	session := newChatSession(rt, reader, &out, chatOptions{Quiet: true, Width: 80})
	require.NoError(t, session.Run(context.Background()))

	require.Equal(t, 1, strings.Count(out.String(), "Error: "))
	require.Equal(t, 0, session.turns)
}

func TestCompleteInput(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"/mo", []string{"/model", "/models"}},
		{"/clear now", nil},
		{"explain @f", []string{"explain @file:"}},
		{"@s", []string{"@selection", "@symbol:"}},
		{"no mention", nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			require.Equal(t, tt.want, completeInput(tt.line))
		})
	}
}
