// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the terminal commands of
// rigrun-chat.
//
// # Key Types
//
//   - Command: enumeration of the top-level commands
//   - Args: parsed global and command-specific flags
//   - ChatSession: the line-based chat (REPL) over a bridge
//   - Renderer: markdown and code rendering for terminal output
//
// # Usage
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdChat:
//	    err = cli.HandleChat(rt, args)
//	case cli.CmdIndex:
//	    err = cli.HandleIndex(ctx, rt, args)
//	// ...
//	}
//	if err != nil {
//	    cli.DisplayError(err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands Overview
//
//   - chat: interactive chat with slash commands and @ mentions
//   - index: build, inspect and search the workspace index
//   - models: list installed models or check one
//   - config: show and edit the configuration file
//   - doctor: health checks for Ollama, the model, config and workspace
//   - version: build information
//
// The models, index, config, doctor and version commands support --json.
package cli
