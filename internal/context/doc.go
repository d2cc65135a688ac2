// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context builds what the model sees around a user prompt: the system
// prompt and the per-turn context block.
//
// The name shadows the standard library package inside this directory; files
// here import "context" for cancellation as usual.
//
// # Mentions
//
//   - @file:path - include a workspace file with line numbers
//   - @selection - include the editor selection
//   - @symbol:Name - include workspace index matches and an excerpt
//   - @codebase - include the workspace index summary
//
// The editor selection is included even without @selection. Recently used
// files from the workspace index are listed after the mentions.
//
// # Usage
//
//	fetcher := context.NewFetcher(ws, idx, context.NewFileCache(0, 0), context.DefaultFetcherConfig())
//	fetcher.SetSelection(session.Selection)
//	eng := engine.New(client, registry, engine.Config{
//		Augmenter:    context.NewAugmenter(fetcher),
//		SystemPrompt: context.SystemPrompt(context.PromptConfig{Root: ws.Root, Tools: registry.Describe()}),
//	})
//
// The augmented text is only sent to the model. The engine rewrites the stored
// user message back to the raw prompt once the turn completes.
package context
