// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

// State is a conversation engine state.
type State int

const (
	// StateIdle means no submission is running.
	StateIdle State = iota

	// StateAwaitingModelResponse means a request is in flight to the backend.
	StateAwaitingModelResponse

	// StateStreamingText means content fragments are being accumulated.
	StateStreamingText

	// StateClassifyingToolCalls means the current turn carries tool calls.
	StateClassifyingToolCalls

	// StateDispatchingTools means tool calls are being executed.
	StateDispatchingTools

	// StateForcedFinalAnswer means the round budget is spent and a final
	// request without tools is in flight.
	StateForcedFinalAnswer
)

// String returns the state name used in logs and on the wire.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModelResponse:
		return "awaiting_model_response"
	case StateStreamingText:
		return "streaming_text"
	case StateClassifyingToolCalls:
		return "classifying_tool_calls"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateForcedFinalAnswer:
		return "forced_final_answer"
	default:
		return "unknown"
	}
}

// StateObserver is called after every state transition. It must not call
// back into the engine's mutating methods.
type StateObserver func(from, to State)
