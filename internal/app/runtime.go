// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/config"
	ctxpkg "github.com/jeranaias/rigrun-chat/internal/context"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/index"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// Options adjusts a Runtime beyond what the config file holds.
type Options struct {
	// Model overrides ollama.model (the --model flag).
	Model string

	// Root overrides workspace.root (the --workspace flag).
	Root string

	// NoIndex skips the workspace index entirely.
	NoIndex bool

	// Backend replaces the Ollama client for the engine. Tests use it.
	Backend engine.Backend
}

// Runtime holds everything shared by the panels of one process: the Ollama
// client, the workspace and its tools, the index and the file cache.
type Runtime struct {
	Config    *config.Config
	Client    *ollama.Client
	Workspace *tools.Workspace
	Registry  *tools.Registry
	Cache     *ctxpkg.FileCache

	// Index is nil when disabled or when it could not be opened.
	Index *index.WorkspaceIndex

	backend engine.Backend
	model   string
}

// Open builds a Runtime from cfg. A workspace index that fails to open is
// logged and left out; the assistant works without it.
func Open(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		Timeout:      cfg.Ollama.TimeoutDuration(),
		ProbeTimeout: cfg.Ollama.ProbeTimeoutDuration(),
	})

	root := cfg.Workspace.Root
	if opts.Root != "" {
		root = opts.Root
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		root = wd
	}
	ws, err := tools.NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace.MaxFileSize > 0 {
		ws.MaxFileSize = cfg.Workspace.MaxFileSize
	}
	ws.Ignore = append(ws.Ignore, cfg.Workspace.Ignore...)

	rt := &Runtime{
		Config:    cfg,
		Client:    client,
		Workspace: ws,
		Registry:  tools.NewBuiltinRegistry(ws),
		Cache:     ctxpkg.NewFileCache(0, 0),
		backend:   client,
		model:     cfg.Ollama.Model,
	}
	if opts.Backend != nil {
		rt.backend = opts.Backend
	}
	if opts.Model != "" {
		rt.model = opts.Model
	}

	if !opts.NoIndex {
		idx, err := index.Open(rt.indexConfig())
		if err != nil {
			log.Printf("INDEX_OPEN_FAILED | root=%s err=%v", ws.Root, err)
		} else {
			rt.Index = idx
			ws.Recorder = idx
			idx.OnChange(func(rel string) {
				rt.Cache.Invalidate(rel)
			})
		}
	}

	log.Printf("RUNTIME_OPEN | root=%s model=%s index=%t", ws.Root, rt.model, rt.Index != nil)
	return rt, nil
}

func (rt *Runtime) indexConfig() *index.Config {
	cfg := index.DefaultConfig(rt.Workspace.Root)
	if rt.Config.Workspace.IndexDB != "" {
		cfg.DatabasePath = rt.Config.Workspace.IndexDB
	}
	if rt.Config.Workspace.MaxFileSize > 0 {
		cfg.MaxFileSize = rt.Config.Workspace.MaxFileSize
	}
	cfg.IgnorePatterns = append(cfg.IgnorePatterns, rt.Config.Workspace.Ignore...)
	cfg.EnableWatch = rt.Config.Workspace.Watch
	return cfg
}

// Model returns the model new engines start with.
func (rt *Runtime) Model() string {
	return rt.model
}

// BuildIndex scans the workspace. It is a no-op without an index.
func (rt *Runtime) BuildIndex(ctx context.Context) error {
	if rt.Index == nil {
		return nil
	}
	start := time.Now()
	if err := rt.Index.Build(ctx); err != nil {
		if errors.Is(err, index.ErrIndexing) {
			return nil
		}
		return fmt.Errorf("build index: %w", err)
	}
	log.Printf("RUNTIME_INDEX_READY | %s dur=%s", rt.Index.Stats(), time.Since(start).Round(time.Millisecond))
	return nil
}

// promptIndex avoids handing a typed nil to an interface.
func (rt *Runtime) promptIndex() ctxpkg.Index {
	if rt.Index == nil {
		return nil
	}
	return rt.Index
}

func (rt *Runtime) recent() engine.RecentFiles {
	if rt.Index == nil {
		return nil
	}
	return rt.Index
}

// NewEngine builds an engine that reports to b and reads the editor
// selection from b. It matches session.EngineFactory.
func (rt *Runtime) NewEngine(b *bridge.Bridge) *engine.Engine {
	fetcher := ctxpkg.NewFetcher(rt.Workspace, rt.promptIndex(), rt.Cache, ctxpkg.FetcherConfig{
		MaxFileSize: rt.Config.Workspace.MaxFileSize,
	})
	fetcher.SetSelection(b.Selection)

	eng := engine.New(rt.backend, rt.Registry, engine.Config{
		Model:            rt.model,
		MaxRounds:        rt.Config.Engine.MaxRounds,
		Streaming:        rt.Config.Engine.Stream,
		ParallelTools:    rt.Config.Engine.ParallelTools,
		RecentFilesLimit: rt.Config.Engine.RecentFiles,
		SystemPrompt: ctxpkg.SystemPrompt(ctxpkg.PromptConfig{
			Root:  rt.Workspace.Root,
			Tools: rt.Registry.Describe(),
			Extra: rt.Config.Engine.SystemPromptExtra,
			Index: rt.promptIndex(),
		}),
		Notifier:  b,
		Augmenter: ctxpkg.NewAugmenter(fetcher),
		Recent:    rt.recent(),
	})
	b.Attach(eng)
	return eng
}

// NewBridge returns a bridge and its engine for a single surface.
func (rt *Runtime) NewBridge(sink bridge.Sink) (*bridge.Bridge, *engine.Engine) {
	b := bridge.New(sink, rt.Client)
	return b, rt.NewEngine(b)
}

// NewSessionManager returns a manager whose panels share this runtime.
func (rt *Runtime) NewSessionManager() *session.Manager {
	return session.NewManager(rt.NewEngine, session.Config{
		IdleTimeout: time.Duration(rt.Config.Server.IdleTimeout) * time.Minute,
		MaxPanels:   rt.Config.Server.MaxPanels,
		Lister:      rt.Client,
	})
}

// Close releases the index.
func (rt *Runtime) Close() error {
	if rt.Index == nil {
		return nil
	}
	return rt.Index.Close()
}

// =============================================================================
// LOGGING
// =============================================================================

// SetupLogging points the standard logger at path, or discards it when path
// is empty and quiet is set. Terminal surfaces call it so log lines do not
// land in the middle of the UI. The returned closer is never nil.
func SetupLogging(path string, quiet bool) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		if quiet {
			log.SetOutput(io.Discard)
		}
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return io.NopCloser(nil), fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return io.NopCloser(nil), fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}
