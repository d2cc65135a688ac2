// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index maintains a SQLite catalogue of the workspace.
//
// A WorkspaceIndex records every file under the workspace root, the
// declarations found in Go, JavaScript/TypeScript, and Python sources, and an
// access history fed by the file tools. The conversation engine only reads
// from it, through RecentFiles.
//
// # Usage
//
//	idx, err := index.Open(index.DefaultConfig(root))
//	defer idx.Close()
//	err = idx.Build(ctx)
//
//	ws.Recorder = idx          // tools report reads and writes
//	recent := idx.RecentFiles(5)
//
// When Config.EnableWatch is set, Build starts an fsnotify watcher that
// rescans changed files after WatchDebounce of quiet. OnChange callbacks fire
// for every rescanned or removed path.
package index
