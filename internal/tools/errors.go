// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"errors"
	"fmt"
)

// ToolNotFoundError is returned when a tool name is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %s not found", e.Name)
}

// ArgumentDecodeError is returned when tool-call arguments cannot be decoded
// into a JSON object.
type ArgumentDecodeError struct {
	Tool string
	Err  error
}

func (e *ArgumentDecodeError) Error() string {
	return fmt.Sprintf("could not parse arguments for tool %s", e.Tool)
}

func (e *ArgumentDecodeError) Unwrap() error {
	return e.Err
}

// ToolExecutionError wraps any failure raised while running a tool,
// including parameter validation failures and recovered panics.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Param + ": " + e.Message
}

// IsToolNotFound reports whether err is a ToolNotFoundError.
func IsToolNotFound(err error) bool {
	var nf *ToolNotFoundError
	return errors.As(err, &nf)
}

// IsArgumentDecode reports whether err is an ArgumentDecodeError.
func IsArgumentDecode(err error) bool {
	var ad *ArgumentDecodeError
	return errors.As(err, &ad)
}

// IsExecution reports whether err is a ToolExecutionError.
func IsExecution(err error) bool {
	var ex *ToolExecutionError
	return errors.As(err, &ex)
}
