// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the conversation state owned by a single engine: an
// ordered log of role-tagged messages whose first element is always the
// system prompt.
//
// # Key Types
//
//   - Conversation: Message log with append, reset, and snapshot operations
//   - Message: Single turn with role, content, and optional tool call data
//   - Role: Closed role enumeration (system, user, assistant,
//     assistant_tool_call_request, tool_response)
//   - InProgress: Handle for the assistant message currently being streamed
//
// # Usage
//
//	conv := model.NewConversation("You are a coding assistant.")
//	conv.AppendUser("list ts files")
//	h := conv.BeginAssistant()
//	h.Write("Found")
//	h.Finish("Found 2 files.")
package model
