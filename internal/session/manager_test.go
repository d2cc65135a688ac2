// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type echoBackend struct{}

func (echoBackend) ChatStream(_ context.Context, _ string, msgs []model.Message, _ []tools.Descriptor) (*ollama.FragmentStream, error) {
	return ollama.NewStaticStream(ollama.Fragment{Content: "echo: " + msgs[len(msgs)-1].Content}), nil
}

func (echoBackend) ChatOnce(context.Context, string, []model.Message, []tools.Descriptor) (model.Message, error) {
	return model.NewAssistantMessage("echo"), nil
}

func (echoBackend) ModelIsAvailable(context.Context, string) bool { return true }

type countingSink struct {
	mu        sync.Mutex
	histories []int
	completed []string
}

func (s *countingSink) ProgressUpdate(string, []model.Message) {}
func (s *countingSink) ModelAvailability(string, bool)         {}
func (s *countingSink) Error(string)                           {}

func (s *countingSink) TurnCompleted(final string, _ []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, final)
}

func (s *countingSink) HistoryReplaced(snapshot []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, len(snapshot))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(cfg Config) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(func(b *bridge.Bridge) *engine.Engine {
		return engine.New(echoBackend{}, nil, engine.Config{
			Model:        "qwen2.5-coder:7b",
			Streaming:    true,
			SystemPrompt: func() string { return "system" },
			Notifier:     b,
		})
	}, cfg)
	m.now = clock.Now
	return m, clock
}

// =============================================================================
// TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	require.Equal(t, time.Minute, cfg.CheckInterval)
	require.Equal(t, 16, cfg.MaxPanels)
}

func TestOpen_OneEnginePerPanel(t *testing.T) {
	m, _ := newTestManager(Config{})

	a, created, err := m.Open("", &countingSink{})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, a.ID)

	b, created, err := m.Open("panel-b", &countingSink{})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "panel-b", b.ID)
	require.NotSame(t, a.Engine, b.Engine)

	_, err = a.Bridge.SubmitPrompt(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, a.Engine.Snapshot(), 3)
	require.Len(t, b.Engine.Snapshot(), 1, "panels do not share conversations")
	require.Equal(t, 2, m.Len())
}

func TestOpen_ReattachReplaysHistory(t *testing.T) {
	m, _ := newTestManager(Config{})

	first := &countingSink{}
	p, _, err := m.Open("panel", first)
	require.NoError(t, err)
	_, err = p.Bridge.SubmitPrompt(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"echo: hello"}, first.completed)

	m.Detach("panel")
	require.False(t, p.Attached())

	second := &countingSink{}
	again, created, err := m.Open("panel", second)
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, p, again)
	require.True(t, again.Attached())
	require.Equal(t, []int{3}, second.histories)
}

func TestCheck_ClosesIdlePanels(t *testing.T) {
	m, clock := newTestManager(Config{IdleTimeout: 10 * time.Minute})

	var (
		mu     sync.Mutex
		closed []string
	)
	m.SetCloseCallback(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, id)
	})

	_, _, err := m.Open("old", nil)
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)
	fresh, _, err := m.Open("fresh", nil)
	require.NoError(t, err)

	require.Empty(t, m.Check())

	clock.Advance(5 * time.Minute)
	require.Equal(t, []string{"old"}, m.Check())
	require.Equal(t, []string{"old"}, closed)

	_, err = m.Get("old")
	require.ErrorIs(t, err, ErrPanelNotFound)

	fresh.Touch(clock.Now())
	clock.Advance(9 * time.Minute)
	require.Empty(t, m.Check())
	require.Equal(t, 1, m.Len())
}

func TestOpen_MaxPanels(t *testing.T) {
	m, clock := newTestManager(Config{MaxPanels: 2})

	_, _, err := m.Open("a", &countingSink{})
	require.NoError(t, err)
	_, _, err = m.Open("b", &countingSink{})
	require.NoError(t, err)

	_, _, err = m.Open("c", &countingSink{})
	require.ErrorIs(t, err, ErrTooManyPanels)

	// A detached panel can be evicted to make room.
	m.Detach("a")
	clock.Advance(time.Minute)
	_, created, err := m.Open("c", &countingSink{})
	require.NoError(t, err)
	require.True(t, created)

	_, err = m.Get("a")
	require.ErrorIs(t, err, ErrPanelNotFound)
	require.Equal(t, 2, m.Len())
}

func TestList(t *testing.T) {
	m, clock := newTestManager(Config{})
	_, _, err := m.Open("first", &countingSink{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = m.Open("second", nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, "first", list[0].ID)
	require.True(t, list[0].Attached)
	require.Equal(t, "qwen2.5-coder:7b", list[0].Model)
	require.Equal(t, "idle", list[0].State)
	require.Equal(t, 1, list[0].Messages)
	require.Equal(t, 3*time.Second, list[0].IdleTime)
	require.False(t, list[1].Attached)
}

func TestRun_ShutdownClosesPanels(t *testing.T) {
	m, _ := newTestManager(Config{CheckInterval: time.Millisecond})
	_, _, err := m.Open("a", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
	require.Zero(t, m.Len())
	_, _, err = m.Open("b", nil)
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			require.Equal(t, tc.want, FormatDuration(tc.d))
		})
	}
}

func TestAttachAndRelease(t *testing.T) {
	m, _ := newTestManager(Config{})
	p, _, err := m.Open("panel", nil)
	require.NoError(t, err)
	require.False(t, p.Attached())

	old := &countingSink{}
	require.NoError(t, m.Attach("panel", old))
	require.True(t, p.Attached())
	require.Equal(t, []int{1}, old.histories)

	// A newer surface takes over before the old connection ends.
	newer := &countingSink{}
	require.NoError(t, m.Attach("panel", newer))
	m.Release("panel", old)
	require.True(t, p.Attached(), "stale release must not detach the newer surface")

	_, err = p.Bridge.SubmitPrompt(context.Background(), "hi")
	require.NoError(t, err)
	require.Empty(t, old.completed)
	require.Equal(t, []string{"echo: hi"}, newer.completed)

	m.Release("panel", newer)
	require.False(t, p.Attached())

	require.ErrorIs(t, m.Attach("missing", newer), ErrPanelNotFound)
}
