// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps one conversation engine per chat panel.
//
// A panel is created on first Open and survives its surface disconnecting,
// so an editor webview that reloads reattaches to the same conversation.
// Panels idle for longer than IdleTimeout are closed by Run; a panel with a
// running turn is never idle.
//
//	mgr := session.NewManager(func(b *bridge.Bridge) *engine.Engine {
//		return engine.New(client, registry, engine.Config{Notifier: b, ...})
//	}, session.DefaultConfig())
//	go mgr.Run(ctx)
//	panel, _, err := mgr.Open(panelID, sink)
package session
