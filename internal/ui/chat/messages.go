// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// ENGINE NOTIFICATIONS
// =============================================================================

// ProgressMsg carries the raw partial answer of the running round. An empty
// Partial marks the end of a tool round.
type ProgressMsg struct {
	Partial  string
	Snapshot []model.Message
}

// TurnCompletedMsg carries the final answer (or error text) of a turn.
type TurnCompletedMsg struct {
	Final    string
	Snapshot []model.Message
}

// HistoryReplacedMsg is sent when the whole conversation changed, for
// example after a clear.
type HistoryReplacedMsg struct {
	Snapshot []model.Message
}

// ModelAvailabilityMsg reports whether a model is installed.
type ModelAvailabilityMsg struct {
	Name string
	OK   bool
}

// ErrorMsg carries a user-facing error.
type ErrorMsg struct {
	Message string
}

// =============================================================================
// LOCAL RESULTS
// =============================================================================

// ModelListMsg carries the installed models for /models.
type ModelListMsg struct {
	Current string
	Models  []ollama.ModelInfo
}

// IndexReadyMsg reports the end of a background index build.
type IndexReadyMsg struct {
	Summary string
	Err     error
}

// submitDoneMsg is returned by the command running a prompt.
type submitDoneMsg struct {
	result engine.Result
	err    error
}

// modelSwitchedMsg is returned by the command running /model NAME.
type modelSwitchedMsg struct {
	name string
	ok   bool
}
