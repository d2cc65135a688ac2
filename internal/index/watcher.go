// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher keeps the index current by rescanning files after they have been
// quiet for the debounce interval.
type Watcher struct {
	idx      *WorkspaceIndex
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // absolute path -> last event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for idx. Call Watch to start it.
func NewWatcher(idx *WorkspaceIndex, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		idx:      idx,
		watcher:  fw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Watch adds the workspace tree and starts event processing.
func (w *Watcher) Watch() error {
	if err := w.addRecursive(w.idx.root); err != nil {
		return err
	}
	go w.run()
	return nil
}

// addRecursive watches dir and every non-ignored subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.idx.root && w.idx.shouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("INDEX_WATCH_ADD_FAILED | path=%s err=%v", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("INDEX_WATCH_PANIC | panic=%v", r)
		}
	}()

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("INDEX_WATCH_ERROR | err=%v", err)

		case <-ticker.C:
			w.flush(false)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.idx.shouldIgnore(filepath.Base(event.Name)) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
			return
		}
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pending[event.Name] = time.Now()
		w.mu.Unlock()
	}
}

// flush rescans paths that have been quiet for the debounce interval, or
// every pending path when all is set.
func (w *Watcher) flush(all bool) {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, at := range w.pending {
		if all || now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if err := w.idx.refreshFile(path); err != nil {
			log.Printf("INDEX_REFRESH_FAILED | path=%s err=%v", path, err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

// startWatcher starts watching once; later calls are no-ops.
func (idx *WorkspaceIndex) startWatcher() error {
	idx.watchMu.Lock()
	defer idx.watchMu.Unlock()
	if idx.watcher != nil {
		return nil
	}

	w, err := NewWatcher(idx, idx.config.WatchDebounce)
	if err != nil {
		return err
	}
	if err := w.Watch(); err != nil {
		w.watcher.Close()
		return err
	}
	idx.watcher = w
	log.Printf("INDEX_WATCH | root=%s debounce=%s", idx.root, w.debounce)
	return nil
}
