// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"regexp"
	"strings"
)

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>\n*`)

// StripReasoning removes every <think>...</think> block and the newlines
// that follow it.
func StripReasoning(s string) string {
	return reasoningBlock.ReplaceAllString(s, "")
}

// VisiblePartial is StripReasoning for text still being streamed: a <think>
// block that has not been closed yet is dropped along with everything after
// it.
func VisiblePartial(partial string) string {
	s := StripReasoning(partial)
	if i := strings.Index(s, "<think>"); i >= 0 {
		return s[:i]
	}
	return s
}
