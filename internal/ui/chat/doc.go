// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat implements the full-screen terminal chat built on Bubble Tea.

The model never touches the conversation directly. Every user action goes
through a Controller (normally *bridge.Bridge) from inside a tea.Cmd, and
engine notifications come back as tea messages through a ProgramSink.

# Wiring

	sink := chat.NewProgramSink()
	b := rt.NewBridge(sink)
	m := chat.New(styles.NewTheme(), b, chat.Options{Model: rt.Model(), Root: rt.Workspace.Root})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	sink.Attach(p.Send)
	_, err := p.Run()

# Layout

	+------------------------------------------+
	| rigrun-chat  model  workspace     state  |  header
	|                                          |
	| transcript (viewport)                    |
	|                                          |
	+------------------------------------------+
	| input (textarea)                         |
	+------------------------------------------+
	  keys / status                               status bar

# Keys

	Enter          Send
	Alt+Enter      New line (also Ctrl+J)
	Esc            Stop the running response
	Ctrl+C         Stop the running response, or quit when idle
	Ctrl+L         New conversation
	PgUp / PgDn    Scroll the transcript
	F1             Help

Slash commands: /clear, /model [name], /models, /select [path[:a-b]], /help
and /quit.
*/
package chat
