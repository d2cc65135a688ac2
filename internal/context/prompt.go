// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

// PromptConfig describes the system prompt.
type PromptConfig struct {
	// Root is the workspace directory shown to the model.
	Root string

	// Tools are listed by name and description.
	Tools []tools.Descriptor

	// Extra is appended verbatim (config engine.system_prompt_extra).
	Extra string

	// Index is optional; when set and built, its summary is included.
	Index Index
}

const basePrompt = `You are a coding assistant working inside the user's editor.
Answer questions about the code in the workspace, explain it, and make changes when asked.
Use the tools to look at files before answering questions about them. Do not guess file contents.
Paths are relative to the workspace root unless they are absolute.
When you have enough information, answer in plain text without calling more tools.
The user's message may start with a <context> block holding their selection, mentioned files and recently used files.`

// SystemPrompt returns a builder for the system message. It is called when
// the conversation starts and again on every clear, so the index summary is
// current.
func SystemPrompt(cfg PromptConfig) func() string {
	return func() string {
		var sb strings.Builder
		sb.WriteString(basePrompt)

		if cfg.Root != "" {
			fmt.Fprintf(&sb, "\n\nWorkspace root: %s", cfg.Root)
		}

		if len(cfg.Tools) > 0 {
			sb.WriteString("\n\nAvailable tools:")
			for _, d := range cfg.Tools {
				desc := d.Description
				if i := strings.IndexByte(desc, '\n'); i >= 0 {
					desc = desc[:i]
				}
				fmt.Fprintf(&sb, "\n- %s: %s", d.Name, desc)
			}
		}

		if cfg.Index != nil {
			if summary, err := cfg.Index.Summary(0); err == nil {
				sb.WriteString("\n\n")
				sb.WriteString(strings.TrimRight(summary, "\n"))
			}
		}

		if extra := strings.TrimSpace(cfg.Extra); extra != "" {
			sb.WriteString("\n\n")
			sb.WriteString(extra)
		}
		return sb.String()
	}
}
