// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// ErrorPrefix starts every error written into an assistant message.
const ErrorPrefix = "Error: "

// ErrBusy is returned when a submission is already running.
var ErrBusy = errors.New("a request is already in progress")

// errStale marks work whose generation was superseded by Clear or a newer
// submission. It never leaves the package.
var errStale = errors.New("generation superseded")

// BackendUnavailableError wraps a failure to reach or stream from the
// inference backend.
type BackendUnavailableError struct {
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("inference backend unavailable: %v", e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// ModelNotInstalledError means the selected model does not exist locally.
type ModelNotInstalledError struct {
	Model string
	Err   error
}

func (e *ModelNotInstalledError) Error() string {
	return fmt.Sprintf("model %s is not installed (run: ollama pull %s)", e.Model, e.Model)
}

func (e *ModelNotInstalledError) Unwrap() error {
	return e.Err
}

// IsBackendUnavailable reports whether err is a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var bu *BackendUnavailableError
	return errors.As(err, &bu)
}

// IsModelNotInstalled reports whether err is a ModelNotInstalledError.
func IsModelNotInstalled(err error) bool {
	var mn *ModelNotInstalledError
	return errors.As(err, &mn)
}

// classifyBackendError maps adapter errors onto the engine taxonomy.
// Cancellation is passed through unchanged.
func classifyBackendError(modelName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if ollama.IsModelNotFound(err) {
		return &ModelNotInstalledError{Model: modelName, Err: err}
	}
	return &BackendUnavailableError{Err: err}
}
