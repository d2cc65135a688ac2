// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the inference client adapter for a local Ollama server.
//
// It is the only place that knows the backend's role vocabulary: conversation
// messages are mapped to "system", "user", "assistant" (with tool_calls for
// tool-call requests), and "tool" on the way out, and replies are mapped back
// to model.Message values on the way in.
//
// # Key Types
//
//   - Client: HTTP client for /api/chat, /api/show, and /api/tags
//   - FragmentStream: pull-based reader over an NDJSON chat stream
//   - Fragment: one piece of a streamed turn
//   - ClientError: typed errors (not running, timeout, model not found)
//
// # Usage
//
//	client := ollama.NewClient()
//	stream, err := client.ChatStream(ctx, "qwen2.5-coder:7b", conv.Snapshot(), reg.Describe())
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(frag.Content)
//	}
//
// The client never retries. ModelIsAvailable is bounded by ProbeTimeout and
// reports false on expiry.
package ollama
