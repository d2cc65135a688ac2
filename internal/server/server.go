// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jeranaias/rigrun-chat/internal/index"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address. The bridge only binds to
	// loopback unless configured otherwise.
	DefaultAddr = "127.0.0.1:8790"

	// DefaultRateLimit is the default number of inbound websocket messages
	// per second per connection.
	DefaultRateLimit = 5.0

	// DefaultBurst is the inbound message burst per connection.
	DefaultBurst = 20

	// MaxMessageSize bounds one inbound websocket message.
	MaxMessageSize = 1 << 20

	// WriteTimeout bounds one outbound websocket write.
	WriteTimeout = 10 * time.Second

	// HealthTimeout bounds the Ollama probe behind /health.
	HealthTimeout = 2 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// HealthChecker reports whether the inference server is reachable.
type HealthChecker interface {
	CheckRunning(ctx context.Context) error
}

// ModelLister lists installed models for /api/models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// IndexStats exposes workspace index statistics for /health.
type IndexStats interface {
	Stats() index.Stats
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (default 127.0.0.1:8790).
	Addr string

	// Token is the bearer token required on every route except /health.
	// Empty disables authentication.
	Token string

	// AllowedOrigins are websocket origin host patterns, such as
	// "localhost:*". Requests without an Origin header are always accepted.
	AllowedOrigins []string

	// RateLimit is inbound websocket messages per second per connection.
	RateLimit float64

	// Version is reported by /health.
	Version string
}

// Server serves the chat bridge to editor webviews over websockets.
//
// Routes:
//   - GET    /health           - Liveness and Ollama reachability
//   - GET    /ws?panel=ID      - Websocket bridge for one chat panel
//   - GET    /api/models       - Installed models
//   - GET    /api/panels       - Open panels
//   - DELETE /api/panels/{id}  - Close a panel
type Server struct {
	config   Config
	sessions *session.Manager
	router   chi.Router

	health HealthChecker
	models ModelLister
	index  IndexStats

	// baseCtx outlives individual connections so a turn keeps running
	// while its panel reconnects.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	server *http.Server
	conns  sync.WaitGroup
}

// New creates a server for the panels in sessions.
func New(sessions *session.Manager, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"localhost:*", "127.0.0.1:*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		sessions: sessions,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.setupRoutes()
	return s
}

// WithHealthChecker sets the Ollama probe used by /health.
func (s *Server) WithHealthChecker(h HealthChecker) *Server {
	s.health = h
	return s
}

// WithModelLister sets the model source for /api/models.
func (s *Server) WithModelLister(l ModelLister) *Server {
	s.models = l
	return s
}

// WithIndex adds workspace index statistics to /health.
func (s *Server) WithIndex(idx IndexStats) *Server {
	s.index = idx
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
	)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(Chain(
			RateLimitMiddleware(NewRateLimiter(10, 50)),
			AuthMiddleware(AuthConfig{Token: s.config.Token, AllowQueryToken: true}),
		))
		r.Get("/ws", s.handleWebSocket)
		r.Get("/api/models", s.handleModels)
		r.Get("/api/panels", s.handlePanels)
		r.Delete("/api/panels/{id}", s.handleClosePanel)
	})

	s.router = r
}

// ============================================================================
// HANDLERS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version,omitempty"`
	OllamaStatus string `json:"ollama_status"`
	Panels       int    `json:"panels"`
	Index        string `json:"index,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Panels:  s.sessions.Len(),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthTimeout)
		defer cancel()
		if err := s.health.CheckRunning(ctx); err == nil {
			health.OllamaStatus = "ok"
		} else {
			health.OllamaStatus = "unavailable"
			health.Status = "degraded"
		}
	} else {
		health.OllamaStatus = "not_configured"
	}

	if s.index != nil {
		health.Index = s.index.Stats().String()
	}

	writeJSON(w, http.StatusOK, health)
}

// ModelResponse is one entry of GET /api/models.
type ModelResponse struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Parameters string    `json:"parameters,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusNotImplemented, "model listing not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	models, err := s.models.ListModels(ctx)
	if err != nil {
		log.Printf("API_MODELS_FAILED | err=%v", err)
		writeError(w, http.StatusBadGateway, "could not list models: "+err.Error())
		return
	}

	out := make([]ModelResponse, len(models))
	for i, m := range models {
		out[i] = ModelResponse{
			Name:       m.Name,
			Size:       m.Size,
			Parameters: m.Details.ParameterSize,
			ModifiedAt: m.ModifiedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": out})
}

// PanelResponse is one entry of GET /api/panels.
type PanelResponse struct {
	ID       string    `json:"id"`
	Model    string    `json:"model"`
	State    string    `json:"state"`
	Messages int       `json:"messages"`
	Attached bool      `json:"attached"`
	Created  time.Time `json:"created"`
	Idle     string    `json:"idle"`
}

func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	out := make([]PanelResponse, len(list))
	for i, st := range list {
		out[i] = PanelResponse{
			ID:       st.ID,
			Model:    st.Model,
			State:    st.State,
			Messages: st.Messages,
			Attached: st.Attached,
			Created:  st.Created,
			Idle:     session.FormatDuration(st.IdleTime),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"panels": out})
}

func (s *Server) handleClosePanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Close(id); err != nil {
		if errors.Is(err, session.ErrPanelNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("API_PANEL_CLOSED | panel=%s ip=%s", id, GetClientIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// Returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Websocket connections are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.baseCtx
		},
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s auth=%t", ln.Addr(), s.config.Version, s.config.Token != "")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes open websockets and waits
// for their handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	s.cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP_WRITE_FAILED | err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
