// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the tool registry used by the conversation engine.
//
// The registry advertises tool descriptors to the inference backend and
// invokes tools by name. Invocation never panics out of the package: unknown
// names, argument validation failures, executor errors, and executor panics
// all come back as typed errors.
//
// # Key Types
//
//   - Tool: Definition with name, description, parameter schema, and executor
//   - Descriptor: Immutable metadata advertised to the model
//   - Registry: Name to tool lookup with Describe and Invoke
//   - Workspace: Root directory every file tool is confined to
//
// # Built-in Tools
//
//   - glob: Find files by pattern ("**/*.ts")
//   - grep: Search file contents with a regular expression
//   - read: Read a text file with line numbers
//   - write: Create or overwrite a file
//
// # Errors
//
//   - ToolNotFoundError: the model asked for a tool that is not registered
//   - ArgumentDecodeError: the call's arguments were not valid JSON
//   - ToolExecutionError: validation or execution failed
package tools
