// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// TOOL DISPATCH
// =============================================================================

// DispatchToolCalls runs every call and returns one tool response per call,
// in call order. Failures never abort the batch: malformed arguments, unknown
// tools, and tool errors all become error responses the model can read.
func (e *Engine) DispatchToolCalls(ctx context.Context, calls []model.ToolCall) []model.Message {
	responses := make([]model.Message, len(calls))

	if !e.parallel || len(calls) < 2 {
		for i, call := range calls {
			responses[i] = e.dispatchOne(ctx, call)
		}
		return responses
	}

	// Each goroutine writes only its own slot, so order is preserved.
	var g errgroup.Group
	g.SetLimit(4)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			responses[i] = e.dispatchOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

// dispatchOne resolves arguments, invokes the tool, and builds the response.
func (e *Engine) dispatchOne(ctx context.Context, call model.ToolCall) (resp model.Message) {
	start := time.Now()
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = &tools.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", p)}
			resp = model.NewToolResponse(call, err.Error(), true)
		}
		log.Printf("TOOL_DISPATCH | tool=%s id=%s ok=%t kind=%s dur=%s",
			call.Name, call.ID, !resp.IsError, failureKind(err), time.Since(start))
	}()

	args, err := decodeArguments(call)
	if err != nil {
		return model.NewToolResponse(call, err.Error(), true)
	}

	res, err := e.registry.Invoke(ctx, call.Name, args)
	if err != nil {
		return model.NewToolResponse(call, err.Error(), true)
	}
	return model.NewToolResponse(call, res.Text(), false)
}

// failureKind names the class of a dispatch error for logs.
func failureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case tools.IsArgumentDecode(err):
		return "arguments"
	case tools.IsToolNotFound(err):
		return "unknown_tool"
	case tools.IsExecution(err):
		return "execution"
	default:
		return "other"
	}
}

// decodeArguments parses a call's JSON argument text into an object.
func decodeArguments(call model.ToolCall) (map[string]interface{}, error) {
	text := strings.TrimSpace(call.Arguments)
	if text == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		return nil, &tools.ArgumentDecodeError{Tool: call.Name, Err: err}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// normalizeCalls gives every call a unique, non-empty id so responses can be
// correlated even when the backend repeats or omits ids.
func normalizeCalls(calls []model.ToolCall) []model.ToolCall {
	out := make([]model.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + uuid.NewString()[:8]
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}
