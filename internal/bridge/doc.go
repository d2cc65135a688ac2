// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge connects a display surface to a conversation engine.
//
// Inbound, the surface calls SubmitPrompt, ClearConversation, SetModel,
// CheckModelInstalled, SetSelection and ListModels, directly or through
// Handle with a decoded Command. Outbound, the engine's notifications reach
// the surface's Sink: ProgressUpdate, TurnCompleted, HistoryReplaced,
// ModelAvailability and Error.
//
// The bridge only reads conversation snapshots; every change goes through
// the engine. Prompts are refused while the current model is known to be
// missing.
//
// EventSink and Command are the JSON envelopes used by the websocket
// transport:
//
//	{"type": "submit_prompt", "text": "list ts files"}
//	{"type": "turn_completed", "text": "Found 2 files.", "history": [...]}
package bridge
