// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes chat panels to editor webviews over websockets.
//
// # Endpoints
//
//   - GET    /health           - Health check (no auth)
//   - GET    /ws?panel=ID      - Websocket bridge for one panel
//   - GET    /api/models       - Installed Ollama models
//   - GET    /api/panels       - Open panels
//   - DELETE /api/panels/{id}  - Close a panel
//
// Each websocket carries bridge.Command frames in and bridge.Event frames
// out. The first event is always "ready" with the panel id; reconnecting
// with that id resumes the same conversation.
//
// # Security
//
//   - Binds to loopback by default
//   - Bearer token with constant-time comparison; websockets may pass it as
//     ?token= since browsers cannot set headers on them
//   - Websocket origin patterns
//   - Per-IP request limits and per-connection message limits
//   - Security headers and panic recovery
//
// # Usage
//
//	srv := server.New(sessions, server.Config{Token: token}).
//		WithHealthChecker(client).
//		WithModelLister(client)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
