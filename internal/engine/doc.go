// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the agentic conversation loop.
//
// An Engine owns one model.Conversation. SubmitUserTurn appends the user's
// turn, asks the backend for a reply, and either records a plain-text answer
// or dispatches the requested tool calls through a tools.Registry and asks
// again. At most MaxRounds tool rounds run per submission; after that the
// engine enters StateForcedFinalAnswer and makes one request without tools.
//
// # State Machine
//
//	Idle -> AwaitingModelResponse -> StreamingText -> Idle
//	                              -> ClassifyingToolCalls -> DispatchingTools -> AwaitingModelResponse
//	                                                                           -> ForcedFinalAnswer -> Idle
//
// # Failures
//
// Tool failures become tool responses and never end a round. Backend failures
// end the turn: the error text, prefixed with "Error: ", replaces the
// assistant message and is reported through Notifier.Error.
//
// # Cancellation
//
// Every submission and every Clear bumps a generation counter. Conversation
// writes check the generation under the engine mutex, and Clear cancels the
// running stream, so output of an abandoned submission never reaches the
// cleared conversation.
package engine
