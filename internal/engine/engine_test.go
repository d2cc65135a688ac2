// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// FAKES
// =============================================================================

// step scripts one backend request.
type step struct {
	frags  []ollama.Fragment
	stream func(ctx context.Context) *ollama.FragmentStream
	err    error
}

// fakeBackend replays scripted steps and records every request.
type fakeBackend struct {
	mu        sync.Mutex
	steps     []step
	repeat    *step
	requests  [][]model.Message
	toolsSent []int
	available map[string]bool
}

func (f *fakeBackend) next(msgs []model.Message, descs []tools.Descriptor) step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, msgs)
	f.toolsSent = append(f.toolsSent, len(descs))
	if len(f.steps) == 0 {
		if f.repeat != nil {
			return *f.repeat
		}
		return step{frags: []ollama.Fragment{{Content: "(unscripted)"}}}
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s
}

func (f *fakeBackend) ChatStream(ctx context.Context, _ string, msgs []model.Message, descs []tools.Descriptor) (*ollama.FragmentStream, error) {
	s := f.next(msgs, descs)
	if s.err != nil {
		return nil, s.err
	}
	if s.stream != nil {
		return s.stream(ctx), nil
	}
	return ollama.NewStaticStream(s.frags...), nil
}

func (f *fakeBackend) ChatOnce(ctx context.Context, _ string, msgs []model.Message, descs []tools.Descriptor) (model.Message, error) {
	s := f.next(msgs, descs)
	if s.err != nil {
		return model.Message{}, s.err
	}
	turn, err := ollama.NewStaticStream(s.frags...).Collect()
	if err != nil {
		return model.Message{}, err
	}
	if len(turn.ToolCalls) > 0 {
		return model.NewToolCallRequest(turn.ToolCalls), nil
	}
	return model.NewAssistantMessage(turn.Content), nil
}

func (f *fakeBackend) ModelIsAvailable(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[name]
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recordingNotifier captures outbound events.
type recordingNotifier struct {
	mu        sync.Mutex
	progress  []string
	completed []string
	replaced  int
	avail     map[string]bool
	errors    []string
	progCh    chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{avail: map[string]bool{}, progCh: make(chan string, 64)}
}

func (n *recordingNotifier) ProgressUpdate(partial string, _ []model.Message) {
	n.mu.Lock()
	n.progress = append(n.progress, partial)
	n.mu.Unlock()
	select {
	case n.progCh <- partial:
	default:
	}
}

func (n *recordingNotifier) TurnCompleted(final string, _ []model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, final)
}

func (n *recordingNotifier) HistoryReplaced([]model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replaced++
}

func (n *recordingNotifier) ModelAvailability(name string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.avail[name] = ok
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

type prefixAugmenter struct{}

func (prefixAugmenter) Augment(_ context.Context, raw string, recent []string) string {
	return raw + "\n\n[context] recent: " + strings.Join(recent, ",")
}

type staticRecent []string

func (r staticRecent) RecentFiles(n int) []string {
	if n < len(r) {
		return r[:n]
	}
	return r
}

// globRegistry holds a glob tool that always lists a.ts and b.ts, and a
// "fail" tool that always errors.
func globRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:        "glob",
		Description: "list files",
		Schema:      tools.Schema{Parameters: []tools.Parameter{{Name: "pattern", Type: "string", Required: true}}},
		ReadOnly:    true,
		Executor: tools.ExecutorFunc(func(ctx context.Context, p map[string]interface{}) (tools.Result, error) {
			return tools.Result{Success: true, Data: map[string][]string{"files": {"a.ts", "b.ts"}}}, nil
		}),
	})
	reg.Register(&tools.Tool{
		Name: "fail",
		Executor: tools.ExecutorFunc(func(ctx context.Context, p map[string]interface{}) (tools.Result, error) {
			return tools.Result{}, errors.New("disk on fire")
		}),
	})
	return reg
}

func globCall(id, args string) ollama.Fragment {
	return ollama.Fragment{ToolCalls: []model.ToolCall{{ID: id, Name: "glob", Arguments: args}}}
}

func newTestEngine(b Backend, reg *tools.Registry, n Notifier, mutate ...func(*Config)) *Engine {
	cfg := Config{
		Model:        "qwen2.5-coder:7b",
		Streaming:    true,
		SystemPrompt: func() string { return "You are a coding assistant." },
		Notifier:     n,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(b, reg, cfg)
}

// requireInvariants checks the conversation-wide invariants.
func requireInvariants(t *testing.T, msgs []model.Message) {
	t.Helper()
	require.NotEmpty(t, msgs)
	require.Equal(t, model.RoleSystem, msgs[0].Role)

	for i, m := range msgs {
		require.True(t, m.Role.Valid(), "message %d has invalid role %q", i, m.Role)
		if m.Role != model.RoleToolCallRequest {
			continue
		}
		require.NotEmpty(t, m.ToolCalls)
		require.Empty(t, m.Content)

		want := make(map[string]bool, len(m.ToolCalls))
		for _, c := range m.ToolCalls {
			want[c.ID] = true
		}
		j := i + 1
		for ; j < len(msgs) && msgs[j].Role == model.RoleToolResponse; j++ {
			require.True(t, want[msgs[j].ToolCallID], "unexpected response id %s", msgs[j].ToolCallID)
			delete(want, msgs[j].ToolCallID)
		}
		require.Empty(t, want, "unanswered tool calls after message %d", i)
	}
}

// ndjsonPipe returns a stream fed by writes to the returned writer.
func ndjsonPipe() (func(ctx context.Context) *ollama.FragmentStream, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return func(ctx context.Context) *ollama.FragmentStream {
		return ollama.NewFragmentStream(ctx, pr)
	}, pw
}

// =============================================================================
// SUBMIT TESTS
// =============================================================================

func TestSubmit_BlankIsNoop(t *testing.T) {
	b := &fakeBackend{}
	e := newTestEngine(b, globRegistry(), nil)

	for _, in := range []string{"", "   ", "\n\t"} {
		res, err := e.SubmitUserTurn(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, Result{}, res)
	}
	require.Equal(t, 1, e.Conversation().Len())
	require.Zero(t, b.requestCount())
}

func TestSubmit_PlainAnswerRoundTrip(t *testing.T) {
	b := &fakeBackend{steps: []step{{frags: []ollama.Fragment{{Content: "Hello"}, {Content: ", world"}}}}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n, func(c *Config) {
		c.Augmenter = prefixAugmenter{}
		c.Recent = staticRecent{"main.go", "go.mod"}
	})

	res, err := e.SubmitUserTurn(context.Background(), "say hi")
	require.NoError(t, err)
	require.Equal(t, "Hello, world", res.Content)
	require.Equal(t, 1, res.Rounds)

	// The model saw the augmented prompt.
	sent := b.requests[0]
	require.Equal(t, model.RoleUser, sent[len(sent)-1].Role)
	require.Contains(t, sent[len(sent)-1].Content, "[context] recent: main.go,go.mod")

	// History holds the raw prompt and a finished answer.
	snap := e.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "say hi", snap[1].Content)
	require.Equal(t, model.RoleAssistant, snap[2].Role)
	require.Equal(t, "Hello, world", snap[2].Content)
	require.False(t, snap[2].InProgress)
	requireInvariants(t, snap)

	require.Equal(t, []string{"Hello", "Hello, world"}, n.progress)
	require.Equal(t, []string{"Hello, world"}, n.completed)
	require.Equal(t, StateIdle, e.State())
}

func TestSubmit_StripsReasoning(t *testing.T) {
	b := &fakeBackend{steps: []step{{frags: []ollama.Fragment{
		{Content: "<think>the user wants"},
		{Content: " a greeting</think>\n\n"},
		{Content: "Hi there"},
	}}}}
	e := newTestEngine(b, globRegistry(), nil)

	res, err := e.SubmitUserTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "Hi there", res.Content)
	require.Equal(t, "Hi there", e.Conversation().Last().Content)
}

func TestSubmit_EmptyAnswer(t *testing.T) {
	b := &fakeBackend{steps: []step{{frags: []ollama.Fragment{{Content: "<think>nothing</think>"}}}}}
	e := newTestEngine(b, globRegistry(), nil)

	res, err := e.SubmitUserTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, emptyAnswer, res.Content)
	require.NotEmpty(t, e.Conversation().Last().Content)
}

// Scenario A: one tool round, then a plain answer.
func TestSubmit_ToolRound(t *testing.T) {
	for _, streaming := range []bool{true, false} {
		t.Run(fmt.Sprintf("streaming=%t", streaming), func(t *testing.T) {
			b := &fakeBackend{steps: []step{
				{frags: []ollama.Fragment{globCall("call_1", `{"pattern":"**/*.ts"}`)}},
				{frags: []ollama.Fragment{{Content: "Found 2 files."}}},
			}}
			e := newTestEngine(b, globRegistry(), nil, func(c *Config) { c.Streaming = streaming })

			res, err := e.SubmitUserTurn(context.Background(), "list ts files")
			require.NoError(t, err)
			require.Equal(t, 2, res.Rounds)
			require.Equal(t, 1, res.ToolCalls)

			snap := e.Snapshot()
			require.Len(t, snap, 5)
			require.Equal(t, model.RoleToolCallRequest, snap[2].Role)
			require.Equal(t, "glob", snap[2].ToolCalls[0].Name)
			require.Equal(t, model.RoleToolResponse, snap[3].Role)
			require.Equal(t, "call_1", snap[3].ToolCallID)
			require.JSONEq(t, `{"files":["a.ts","b.ts"]}`, snap[3].Content)
			require.False(t, snap[3].IsError)
			require.Equal(t, model.RoleAssistant, snap[4].Role)
			require.Equal(t, "Found 2 files.", snap[4].Content)
			requireInvariants(t, snap)

			// The second request carried the tool response back to the model.
			second := b.requests[1]
			require.Equal(t, model.RoleToolResponse, second[len(second)-1].Role)
		})
	}
}

// Scenario B: malformed arguments become an error response, the round goes on.
func TestSubmit_MalformedArguments(t *testing.T) {
	b := &fakeBackend{steps: []step{
		{frags: []ollama.Fragment{globCall("call_1", `{pattern:`)}},
		{frags: []ollama.Fragment{{Content: "Sorry, retrying failed."}}},
	}}
	e := newTestEngine(b, globRegistry(), nil)

	res, err := e.SubmitUserTurn(context.Background(), "list ts files")
	require.NoError(t, err)
	require.Equal(t, "Sorry, retrying failed.", res.Content)

	snap := e.Snapshot()
	resp := snap[3]
	require.Equal(t, model.RoleToolResponse, resp.Role)
	require.True(t, resp.IsError)
	require.Equal(t, "could not parse arguments for tool glob", resp.Content)
	requireInvariants(t, snap)
}

func TestSubmit_UnknownTool(t *testing.T) {
	b := &fakeBackend{steps: []step{
		{frags: []ollama.Fragment{{ToolCalls: []model.ToolCall{{ID: "c1", Name: "teleport", Arguments: `{}`}}}}},
		{frags: []ollama.Fragment{{Content: "That tool does not exist."}}},
	}}
	e := newTestEngine(b, globRegistry(), nil)

	_, err := e.SubmitUserTurn(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, "tool teleport not found", e.Snapshot()[3].Content)
}

// Scenario C: connection failure before any fragment.
func TestSubmit_BackendUnavailable(t *testing.T) {
	b := &fakeBackend{steps: []step{{err: &ollama.ClientError{Type: ollama.ErrTypeNotRunning, Message: "Ollama is not running"}}}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n, func(c *Config) { c.Augmenter = prefixAugmenter{} })

	var res Result
	var err error
	require.NotPanics(t, func() {
		res, err = e.SubmitUserTurn(context.Background(), "hello")
	})
	require.Error(t, err)
	require.True(t, IsBackendUnavailable(err))

	last := e.Conversation().Last()
	require.Equal(t, model.RoleAssistant, last.Role)
	require.True(t, strings.HasPrefix(last.Content, ErrorPrefix), last.Content)
	require.Equal(t, last.Content, res.Content)
	require.Equal(t, "hello", e.Snapshot()[1].Content, "raw prompt restored after failure")
	require.Len(t, n.errors, 1)
	require.Equal(t, StateIdle, e.State())
}

// Scenario C, mid-stream: the partial answer is replaced by the error.
func TestSubmit_StreamInterrupted(t *testing.T) {
	line := `{"message":{"content":"partial answer"},"done":false}` + "\n"
	b := &fakeBackend{steps: []step{{stream: func(ctx context.Context) *ollama.FragmentStream {
		return ollama.NewFragmentStream(ctx, io.NopCloser(strings.NewReader(line)))
	}}}}
	e := newTestEngine(b, globRegistry(), nil)

	_, err := e.SubmitUserTurn(context.Background(), "hello")
	require.True(t, IsBackendUnavailable(err))

	snap := e.Snapshot()
	require.Len(t, snap, 3)
	require.True(t, strings.HasPrefix(snap[2].Content, ErrorPrefix))
	require.NotContains(t, snap[2].Content, "partial answer")
	require.False(t, snap[2].InProgress)
}

func TestSubmit_ModelNotInstalled(t *testing.T) {
	b := &fakeBackend{steps: []step{{err: &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: "model not found"}}}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n)

	_, err := e.SubmitUserTurn(context.Background(), "hello")
	require.True(t, IsModelNotInstalled(err))
	require.True(t, e.ModelMissing())
	require.Equal(t, map[string]bool{"qwen2.5-coder:7b": false}, n.avail)
}

func TestSubmit_ToolCallsAfterContentAreIgnored(t *testing.T) {
	b := &fakeBackend{steps: []step{{frags: []ollama.Fragment{
		{Content: " "},
		globCall("call_1", `{"pattern":"*"}`),
		{Content: "plain text"},
	}}}}
	e := newTestEngine(b, globRegistry(), nil)

	res, err := e.SubmitUserTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.Zero(t, res.ToolCalls)
	require.Equal(t, " plain text", res.Content)
	require.Len(t, e.Snapshot(), 3)
}

// =============================================================================
// ROUND BUDGET
// =============================================================================

func TestSubmit_RoundBudgetForcesFinalAnswer(t *testing.T) {
	tool := step{frags: []ollama.Fragment{globCall("", `{"pattern":"*"}`)}}
	final := step{frags: []ollama.Fragment{{Content: "Here is what I found."}}}
	b := &fakeBackend{steps: []step{tool, tool, tool, tool, tool, final}}

	var mu sync.Mutex
	var seen []State
	e := newTestEngine(b, globRegistry(), nil, func(c *Config) {
		c.Observer = func(from, to State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, to)
		}
	})

	res, err := e.SubmitUserTurn(context.Background(), "loop forever")
	require.NoError(t, err)
	require.True(t, res.Forced)
	require.Equal(t, 6, res.Rounds)
	require.Equal(t, 5, res.ToolCalls)
	require.Equal(t, "Here is what I found.", res.Content)

	require.Contains(t, seen, StateForcedFinalAnswer)
	require.Equal(t, StateIdle, seen[len(seen)-1])

	// Six requests: five with tools, the forced one without.
	require.Equal(t, []int{2, 2, 2, 2, 2, 0}, b.toolsSent)

	requests := 0
	for _, m := range e.Snapshot() {
		if m.Role == model.RoleToolCallRequest {
			requests++
		}
	}
	require.Equal(t, 5, requests)
	requireInvariants(t, e.Snapshot())
}

func TestSubmit_ForcedAnswerStillCallingTools(t *testing.T) {
	tool := step{frags: []ollama.Fragment{globCall("", `{"pattern":"*"}`)}}
	b := &fakeBackend{repeat: &tool}
	e := newTestEngine(b, globRegistry(), nil, func(c *Config) { c.MaxRounds = 2 })

	res, err := e.SubmitUserTurn(context.Background(), "loop")
	require.NoError(t, err)
	require.True(t, res.Forced)
	require.Equal(t, exhaustedAnswer, res.Content)
	require.Equal(t, 3, b.requestCount())
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestDispatchToolCalls_OrderWithFailure(t *testing.T) {
	good := func(id string) model.ToolCall {
		return model.ToolCall{ID: id, Name: "glob", Arguments: `{"pattern":"*"}`}
	}
	bad := func(id string) model.ToolCall {
		return model.ToolCall{ID: id, Name: "fail", Arguments: `{}`}
	}

	for _, parallel := range []bool{false, true} {
		for pos := 0; pos < 3; pos++ {
			t.Run(fmt.Sprintf("parallel=%t/fail_at=%d", parallel, pos), func(t *testing.T) {
				e := newTestEngine(&fakeBackend{}, globRegistry(), nil, func(c *Config) { c.ParallelTools = parallel })

				calls := []model.ToolCall{good("c0"), good("c1"), good("c2")}
				calls[pos] = bad(calls[pos].ID)

				responses := e.DispatchToolCalls(context.Background(), calls)
				require.Len(t, responses, 3)
				for i, r := range responses {
					require.Equal(t, model.RoleToolResponse, r.Role)
					require.Equal(t, calls[i].ID, r.ToolCallID)
					require.Equal(t, i == pos, r.IsError)
				}
				require.Contains(t, responses[pos].Content, "tool fail failed: disk on fire")
			})
		}
	}
}

func TestDispatchToolCalls_ArgumentShapes(t *testing.T) {
	e := newTestEngine(&fakeBackend{}, globRegistry(), nil)

	responses := e.DispatchToolCalls(context.Background(), []model.ToolCall{
		{ID: "a", Name: "glob", Arguments: `{"pattern":"**/*.ts"}`},
		{ID: "b", Name: "glob", Arguments: ``},
		{ID: "c", Name: "glob", Arguments: `[1,2]`},
	})
	require.False(t, responses[0].IsError)
	require.True(t, responses[1].IsError, "missing required pattern")
	require.Equal(t, "could not parse arguments for tool glob", responses[2].Content)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&tools.ArgumentDecodeError{Tool: "glob", Err: errors.New("bad json")}, "arguments"},
		{fmt.Errorf("wrapped: %w", &tools.ToolNotFoundError{Name: "bash"}), "unknown_tool"},
		{&tools.ToolExecutionError{Tool: "read", Err: errors.New("denied")}, "execution"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			require.Equal(t, tc.want, failureKind(tc.err))
		})
	}
}

func TestNormalizeCalls(t *testing.T) {
	out := normalizeCalls([]model.ToolCall{{ID: "x"}, {ID: "x"}, {ID: ""}})
	require.Equal(t, "x", out[0].ID)
	require.NotEqual(t, "x", out[1].ID)
	require.NotEmpty(t, out[2].ID)
	require.NotEqual(t, out[1].ID, out[2].ID)
}

// =============================================================================
// CLEAR / GENERATION
// =============================================================================

func TestClear_YieldsSystemOnly(t *testing.T) {
	builds := 0
	b := &fakeBackend{steps: []step{{frags: []ollama.Fragment{{Content: "ok"}}}}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n, func(c *Config) {
		c.SystemPrompt = func() string {
			builds++
			return fmt.Sprintf("system v%d", builds)
		}
	})

	_, err := e.SubmitUserTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, 3, e.Conversation().Len())

	e.Clear()
	snap := e.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, model.RoleSystem, snap[0].Role)
	require.Equal(t, "system v2", snap[0].Content)
	require.Equal(t, 1, n.replaced)
}

// Scenario D: clearing mid-stream discards the old generation's fragments.
func TestClear_MidStreamDiscardsStaleFragments(t *testing.T) {
	open, pw := ndjsonPipe()
	b := &fakeBackend{steps: []step{
		{stream: open},
		{frags: []ollama.Fragment{{Content: "fresh answer"}}},
	}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.SubmitUserTurn(context.Background(), "old question")
		done <- outcome{res, err}
	}()

	_, err := io.WriteString(pw, `{"message":{"content":"old "},"done":false}`+"\n")
	require.NoError(t, err)
	select {
	case <-n.progCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no progress update for first fragment")
	}

	e.Clear()
	require.Len(t, e.Snapshot(), 1)

	// A late fragment from the abandoned stream.
	go func() {
		io.WriteString(pw, `{"message":{"content":"stale"},"done":false}`+"\n")
		pw.Close()
	}()

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned submission did not return")
	}
	require.NoError(t, out.err)
	require.True(t, out.res.Abandoned)
	require.Len(t, e.Snapshot(), 1)

	res, err := e.SubmitUserTurn(context.Background(), "new question")
	require.NoError(t, err)
	require.Equal(t, "fresh answer", res.Content)

	snap := e.Snapshot()
	require.Len(t, snap, 3)
	for _, m := range snap {
		require.NotContains(t, m.Content, "stale")
		require.NotContains(t, m.Content, "old")
	}
	requireInvariants(t, snap)
}

func TestClear_BuildsPromptOutsideLock(t *testing.T) {
	var e *Engine
	builds := 0
	e = newTestEngine(&fakeBackend{}, globRegistry(), nil, func(c *Config) {
		c.SystemPrompt = func() string {
			builds++
			if e != nil {
				// Reads engine state the way an index-backed builder may.
				return "state=" + e.State().String()
			}
			return "initial"
		}
	})

	done := make(chan struct{})
	go func() {
		e.Clear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Clear blocked while building the system prompt")
	}
	require.Equal(t, 2, builds)
	require.Equal(t, "state=idle", e.Snapshot()[0].Content)
}

func TestClear_FreesSubmissionSlot(t *testing.T) {
	open, pw := ndjsonPipe()
	b := &fakeBackend{steps: []step{
		{stream: open},
		{frags: []ollama.Fragment{{Content: "fresh answer"}}},
	}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n)

	done := make(chan Result, 1)
	go func() {
		res, _ := e.SubmitUserTurn(context.Background(), "old question")
		done <- res
	}()

	_, err := io.WriteString(pw, `{"message":{"content":"old "},"done":false}`+"\n")
	require.NoError(t, err)
	select {
	case <-n.progCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no progress update for first fragment")
	}
	require.True(t, e.Busy())

	// The old stream is still blocked; the next prompt must not wait for it.
	e.Clear()
	require.False(t, e.Busy())
	res, err := e.SubmitUserTurn(context.Background(), "new question")
	require.NoError(t, err)
	require.Equal(t, "fresh answer", res.Content)

	pw.Close()
	select {
	case old := <-done:
		require.True(t, old.Abandoned)
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned submission did not return")
	}
	require.False(t, e.Busy())

	snap := e.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "new question", snap[1].Content)
	require.Equal(t, "fresh answer", snap[2].Content)
	requireInvariants(t, snap)
}

func TestSubmit_BusyRejectsSecondSubmission(t *testing.T) {
	open, pw := ndjsonPipe()
	b := &fakeBackend{steps: []step{{stream: open}}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.SubmitUserTurn(context.Background(), "first")
	}()

	io.WriteString(pw, `{"message":{"content":"working"},"done":false}`+"\n")
	<-n.progCh
	require.True(t, e.Busy())

	_, err := e.SubmitUserTurn(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	io.WriteString(pw, `{"message":{"content":""},"done":true}`+"\n")
	pw.Close()
	<-done

	require.False(t, e.Busy())
	require.Equal(t, "first", e.Snapshot()[1].Content)
	require.Len(t, e.Snapshot(), 3)
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

func TestSetModel(t *testing.T) {
	b := &fakeBackend{available: map[string]bool{"llama3.2:3b": true}}
	n := newRecordingNotifier()
	e := newTestEngine(b, globRegistry(), n)

	ok, err := e.SetModel(context.Background(), "ghost:1b")
	require.False(t, ok)
	require.True(t, IsModelNotInstalled(err))
	require.Equal(t, "qwen2.5-coder:7b", e.Model())

	ok, err = e.SetModel(context.Background(), "llama3.2:3b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "llama3.2:3b", e.Model())
	require.False(t, e.ModelMissing())

	require.Equal(t, map[string]bool{"ghost:1b": false, "llama3.2:3b": true}, n.avail)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"none", "plain answer", "plain answer"},
		{"leading", "<think>hmm</think>\n\nanswer", "answer"},
		{"multiline", "<think>a\nb\nc</think>\nanswer", "answer"},
		{"two blocks", "<think>x</think>one <think>y</think>two", "one two"},
		{"unclosed", "<think>never closed", "<think>never closed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StripReasoning(tc.in))
		})
	}
}

func TestVisiblePartial(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"closed block", "<think>plan</think>\nanswer", "answer"},
		{"unclosed block", "before <think>still thinking", "before "},
		{"closed then open", "<think>a</think>x<think>b", "x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, VisiblePartial(tc.in))
		})
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "forced_final_answer", StateForcedFinalAnswer.String())
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "unknown", State(99).String())
}
