// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool represents an executable tool.
type Tool struct {
	// Name is the identifier the model uses to call the tool.
	Name string

	// Description is advertised to the model.
	Description string

	// Schema defines the tool's parameters.
	Schema Schema

	// ReadOnly tools never modify the workspace.
	ReadOnly bool

	// Executor handles the actual execution.
	Executor ToolExecutor
}

// Schema defines a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter defines a single tool parameter.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean", "array", "object"
	Required    bool
	Description string
	Default     interface{}
	Enum        []string
}

// =============================================================================
// DESCRIPTORS
// =============================================================================

// Descriptor is the immutable metadata advertised to the inference backend.
type Descriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  ParametersSchema `json:"parameters"`
}

// ParametersSchema is a JSON-schema object describing a tool's arguments.
type ParametersSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one JSON-schema property.
type Property struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Descriptor builds the advertised metadata for the tool.
func (t *Tool) Descriptor() Descriptor {
	d := Descriptor{
		Name:        t.Name,
		Description: t.Description,
		Parameters: ParametersSchema{
			Type:       "object",
			Properties: make(map[string]Property, len(t.Schema.Parameters)),
		},
	}
	for _, p := range t.Schema.Parameters {
		d.Parameters.Properties[p.Name] = Property{
			Type:        p.Type,
			Description: p.Description,
			Enum:        p.Enum,
			Default:     p.Default,
		}
		if p.Required {
			d.Parameters.Required = append(d.Parameters.Required, p.Name)
		}
	}
	return d
}

// =============================================================================
// EXECUTION
// =============================================================================

// ToolExecutor is the interface for individual tool execution.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) (Result, error)
}

// ExecutorFunc adapts a function to ToolExecutor.
type ExecutorFunc func(ctx context.Context, params map[string]interface{}) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	return f(ctx, params)
}

// Result holds the outcome of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully.
	Success bool

	// Output is plain-text output.
	Output string

	// Data is structured output, serialized to JSON when Output is empty.
	Data interface{}

	// Error is the failure message when Success is false.
	Error string

	Duration  time.Duration
	Truncated bool

	// FilesMatched for glob, MatchCount for grep, LinesCount for read.
	FilesMatched int
	MatchCount   int
	LinesCount   int
	BytesWritten int64
}

// NoOutput is the text sent back for a successful call that produced nothing.
const NoOutput = "(no output)"

// Text returns the result as the text sent back to the model. It is never
// empty.
func (r Result) Text() string {
	if r.Output != "" {
		return r.Output
	}
	if r.Data == nil {
		return NoOutput
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	if string(b) == "null" {
		return NoOutput
	}
	return string(b)
}

// DefaultToolTimeout is applied when the context has no deadline.
const DefaultToolTimeout = 30 * time.Second

// DefaultMaxOutput bounds the characters of tool output returned to the model.
const DefaultMaxOutput = 30000

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds all available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// MaxOutput bounds tool output in runes (0 uses DefaultMaxOutput).
	MaxOutput int

	// Timeout overrides DefaultToolTimeout when positive.
	Timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// NewBuiltinRegistry creates a registry holding glob, grep, read, and write,
// all confined to ws.
func NewBuiltinRegistry(ws *Workspace) *Registry {
	r := NewRegistry()
	r.Register(GlobTool(ws))
	r.Register(GrepTool(ws))
	r.Register(ReadTool(ws))
	r.Register(WriteTool(ws))
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for every registered tool, sorted by name.
func (r *Registry) Describe() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if t := r.Get(name); t != nil {
			out = append(out, t.Descriptor())
		}
	}
	return out
}

// Invoke runs a tool by name. It never panics: an unknown name returns
// *ToolNotFoundError, and validation failures, executor errors, unsuccessful
// results, timeouts, and panics all return *ToolExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	start := time.Now()

	tool := r.Get(name)
	if tool == nil {
		return Result{}, &ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := ValidateToolArgs(&tool.Schema, args); err != nil {
		return Result{}, &ToolExecutionError{Tool: name, Err: err}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = DefaultToolTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := tool.Executor.Execute(ctx, args)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("tool execution timed out: %w", ctx.Err())}
	}

	res := out.res
	res.Duration = time.Since(start)
	err := out.err
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		err = errors.New(msg)
	}
	if err != nil {
		log.Printf("TOOL_INVOKE | tool=%s ok=false dur=%s err=%q", name, res.Duration, err.Error())
		return res, &ToolExecutionError{Tool: name, Err: err}
	}

	maxOut := r.MaxOutput
	if maxOut <= 0 {
		maxOut = DefaultMaxOutput
	}
	if res.Output != "" {
		var cut bool
		res.Output, cut = util.TruncateOutput(res.Output, maxOut, 0)
		res.Truncated = res.Truncated || cut
	}

	log.Printf("TOOL_INVOKE | tool=%s ok=true dur=%s truncated=%t", name, res.Duration, res.Truncated)
	return res, nil
}

// =============================================================================
// ARGUMENT VALIDATION
// =============================================================================

// ValidateToolArgs validates tool arguments against a schema: required
// parameters, types, enum membership, and sanity bounds on numbers and
// strings.
func ValidateToolArgs(schema *Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	for _, param := range schema.Parameters {
		val, exists := args[param.Name]

		if param.Required && (!exists || val == nil) {
			return &ValidationError{Param: param.Name, Message: "missing required argument"}
		}
		if !exists || val == nil {
			continue
		}

		if err := validateArgType(param, val); err != nil {
			return err
		}

		switch param.Type {
		case "number", "integer":
			if f, ok := toFloat(val); ok && math.Abs(f) > 1e15 {
				return &ValidationError{Param: param.Name, Message: "numeric value out of reasonable bounds"}
			}
		case "string":
			s := val.(string)
			if len(s) > 10*1024*1024 {
				return &ValidationError{Param: param.Name, Message: "string value exceeds maximum length"}
			}
			if len(param.Enum) > 0 && !containsString(param.Enum, s) {
				return &ValidationError{
					Param:   param.Name,
					Message: "must be one of " + strings.Join(param.Enum, ", "),
				}
			}
		}
	}

	return nil
}

// validateArgType validates the type of an argument.
func validateArgType(param Parameter, val interface{}) error {
	ok := true
	switch param.Type {
	case "string":
		_, ok = val.(string)
	case "number":
		_, ok = toFloat(val)
	case "integer":
		var f float64
		f, ok = toFloat(val)
		ok = ok && f == math.Trunc(f)
	case "boolean":
		_, ok = val.(bool)
	case "array":
		_, ok = val.([]interface{})
	case "object":
		_, ok = val.(map[string]interface{})
	}
	if !ok {
		return &ValidationError{Param: param.Name, Message: "expected " + param.Type + " type"}
	}
	return nil
}

func toFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// =============================================================================
// PARAMETER HELPERS
// =============================================================================

// getIntParam extracts an integer parameter with a default value.
func getIntParam(params map[string]interface{}, name string, defaultVal int) int {
	if f, ok := toFloat(params[name]); ok {
		return int(f)
	}
	return defaultVal
}

// getStringParam extracts a string parameter with a default value.
func getStringParam(params map[string]interface{}, name string, defaultVal string) string {
	if s, ok := params[name].(string); ok && s != "" {
		return s
	}
	return defaultVal
}

// getBoolParam extracts a boolean parameter with a default value.
func getBoolParam(params map[string]interface{}, name string, defaultVal bool) bool {
	if b, ok := params[name].(bool); ok {
		return b
	}
	return defaultVal
}
