// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the configured pieces of rigrun-chat together: the Ollama
// client, the workspace and its file tools, the workspace index, the file
// cache, and engines built on top of them.
//
// Every surface (websocket server, REPL, TUI) opens one Runtime and asks it
// for engines:
//
//	rt, err := app.Open(cfg, app.Options{Model: args.Model})
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//	go rt.BuildIndex(ctx)
//
//	b, eng := rt.NewBridge(sink)      // one conversation
//	sessions := rt.NewSessionManager() // one conversation per panel
package app
