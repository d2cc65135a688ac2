// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/engine"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTooManyPanels is returned when MaxPanels are open and none is idle.
	ErrTooManyPanels = errors.New("too many open panels")

	// ErrPanelNotFound is returned for an unknown panel id.
	ErrPanelNotFound = errors.New("panel not found")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("session manager closed")
)

// =============================================================================
// PANEL
// =============================================================================

// EngineFactory builds the engine for a new panel. The bridge must be passed
// as the engine's Notifier; its Selection feeds the prompt augmenter.
type EngineFactory func(b *bridge.Bridge) *engine.Engine

// Panel is one chat surface with its own engine and conversation.
type Panel struct {
	ID      string
	Bridge  *bridge.Bridge
	Engine  *engine.Engine
	Created time.Time

	mu           sync.Mutex
	lastActivity time.Time
	attached     bool
}

// Touch records activity on the panel.
func (p *Panel) Touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = now
}

// IdleTime returns how long the panel has been idle at now. A panel with a
// running turn is never idle.
func (p *Panel) IdleTime(now time.Time) time.Duration {
	if p.Engine.Busy() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastActivity)
}

// Attached reports whether a surface is connected.
func (p *Panel) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// IdleTimeout closes panels idle this long (default 30 minutes).
	IdleTimeout time.Duration

	// CheckInterval is how often Run looks for idle panels (default 1 minute).
	CheckInterval time.Duration

	// MaxPanels bounds open panels (default 16).
	MaxPanels int

	// Lister serves list_models for every panel. Optional.
	Lister bridge.ModelLister
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		CheckInterval: time.Minute,
		MaxPanels:     16,
	}
}

// Manager owns one engine per panel and closes panels that go idle.
type Manager struct {
	mu      sync.Mutex
	panels  map[string]*Panel
	factory EngineFactory
	config  Config
	closed  bool

	// now is replaced in tests.
	now func() time.Time

	onClose func(id string)
}

// NewManager creates a session manager.
func NewManager(factory EngineFactory, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.MaxPanels <= 0 {
		cfg.MaxPanels = def.MaxPanels
	}
	return &Manager{
		panels:  make(map[string]*Panel),
		factory: factory,
		config:  cfg,
		now:     time.Now,
	}
}

// SetCloseCallback sets the function called after a panel is closed.
func (m *Manager) SetCloseCallback(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Open attaches sink to panel id, creating the panel if needed. An empty id
// creates a new panel with a generated id. Reattaching replays the live
// history to the new sink.
func (m *Manager) Open(id string, sink bridge.Sink) (*Panel, bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, ErrManagerClosed
	}
	now := m.now()

	if p, ok := m.panels[id]; ok && id != "" {
		m.mu.Unlock()
		p.Touch(now)
		if sink != nil {
			p.attach(sink)
			log.Printf("SESSION_REATTACH | panel=%s", id)
		}
		return p, false, nil
	}

	if len(m.panels) >= m.config.MaxPanels {
		if !m.evictIdlestLocked(now) {
			m.mu.Unlock()
			return nil, false, fmt.Errorf("%w (max %d)", ErrTooManyPanels, m.config.MaxPanels)
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	b := bridge.New(sink, m.config.Lister)
	eng := m.factory(b)
	b.Attach(eng)

	p := &Panel{
		ID:           id,
		Bridge:       b,
		Engine:       eng,
		Created:      now,
		lastActivity: now,
		attached:     sink != nil,
	}
	m.panels[id] = p
	count := len(m.panels)
	m.mu.Unlock()

	log.Printf("SESSION_OPEN | panel=%s model=%s panels=%d", id, eng.Model(), count)
	return p, true, nil
}

// evictIdlestLocked closes the longest-idle detached panel.
func (m *Manager) evictIdlestLocked(now time.Time) bool {
	var victim *Panel
	for _, p := range m.panels {
		if p.Attached() || p.Engine.Busy() {
			continue
		}
		if victim == nil || p.IdleTime(now) > victim.IdleTime(now) {
			victim = p
		}
	}
	if victim == nil {
		return false
	}
	delete(m.panels, victim.ID)
	victim.Engine.Clear()
	log.Printf("SESSION_EVICT | panel=%s", victim.ID)
	return true
}

// Get returns an open panel.
func (m *Manager) Get(id string) (*Panel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panels[id]
	if !ok {
		return nil, ErrPanelNotFound
	}
	return p, nil
}

// Attach connects sink to an open panel and replays its history.
func (m *Manager) Attach(id string, sink bridge.Sink) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	p.Touch(m.now())
	p.attach(sink)
	return nil
}

func (p *Panel) attach(sink bridge.Sink) {
	p.mu.Lock()
	p.attached = sink != nil
	p.mu.Unlock()
	p.Bridge.SetSink(sink)
}

// Detach disconnects the panel's surface. The conversation survives until the
// panel goes idle, so the surface can reattach.
func (m *Manager) Detach(id string) {
	p, err := m.Get(id)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.attached = false
	p.mu.Unlock()
	p.Touch(m.now())
	p.Bridge.SetSink(nil)
	log.Printf("SESSION_DETACH | panel=%s", id)
}

// Release detaches sink from panel id unless another surface has attached
// since. Transports call it when their connection ends.
func (m *Manager) Release(id string, sink bridge.Sink) {
	p, err := m.Get(id)
	if err != nil {
		return
	}
	if !p.Bridge.ReleaseSink(sink) {
		return
	}
	p.mu.Lock()
	p.attached = false
	p.mu.Unlock()
	p.Touch(m.now())
	log.Printf("SESSION_DETACH | panel=%s", id)
}

// Close cancels any running turn and forgets the panel.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	p, ok := m.panels[id]
	if ok {
		delete(m.panels, id)
	}
	onClose := m.onClose
	m.mu.Unlock()

	if !ok {
		return ErrPanelNotFound
	}
	p.Bridge.SetSink(nil)
	p.Engine.Clear()
	log.Printf("SESSION_CLOSE | panel=%s", id)
	if onClose != nil {
		onClose(id)
	}
	return nil
}

// Len returns the number of open panels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.panels)
}

// =============================================================================
// IDLE CHECKING
// =============================================================================

// Check closes every panel idle for at least IdleTimeout and returns their
// ids. Callbacks run outside the lock.
func (m *Manager) Check() []string {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, p := range m.panels {
		if p.IdleTime(now) >= m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		m.Close(id)
	}
	return expired
}

// Run checks for idle panels every CheckInterval until ctx is done, then
// closes every panel.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-ticker.C:
			if closed := m.Check(); len(closed) > 0 {
				log.Printf("SESSION_IDLE_CLOSED | count=%d", len(closed))
			}
		}
	}
}

// Shutdown closes all panels and refuses new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.panels))
	for id := range m.panels {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status describes one panel.
type Status struct {
	ID       string
	Model    string
	State    string
	Messages int
	Attached bool
	Created  time.Time
	IdleTime time.Duration
}

// List returns the status of every panel, oldest first.
func (m *Manager) List() []Status {
	now := m.now()
	m.mu.Lock()
	panels := make([]*Panel, 0, len(m.panels))
	for _, p := range m.panels {
		panels = append(panels, p)
	}
	m.mu.Unlock()

	sort.Slice(panels, func(i, j int) bool {
		if !panels[i].Created.Equal(panels[j].Created) {
			return panels[i].Created.Before(panels[j].Created)
		}
		return panels[i].ID < panels[j].ID
	})

	out := make([]Status, len(panels))
	for i, p := range panels {
		out[i] = Status{
			ID:       p.ID,
			Model:    p.Engine.Model(),
			State:    p.Engine.State().String(),
			Messages: len(p.Engine.Snapshot()),
			Attached: p.Attached(),
			Created:  p.Created,
			IdleTime: p.IdleTime(now),
		}
	}
	return out
}

// FormatDuration returns a short human-readable duration.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
