// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncateRunes truncates s to at most maxRunes characters, appending "..."
// when something was cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates s to a terminal display width, counting wide
// (CJK, emoji) characters as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// LastLine returns the final non-empty line of s, used for one-line
// streaming previews.
func LastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// TruncateOutput bounds tool output sent back to the model. It keeps at most
// maxLines lines and maxRunes characters and reports whether anything was
// dropped.
func TruncateOutput(s string, maxRunes, maxLines int) (string, bool) {
	truncated := false
	if maxLines > 0 {
		lines := strings.SplitAfter(s, "\n")
		if len(lines) > maxLines {
			s = strings.Join(lines[:maxLines], "")
			truncated = true
		}
	}
	if maxRunes > 0 && len([]rune(s)) > maxRunes {
		s = string([]rune(s)[:maxRunes])
		truncated = true
	}
	if truncated {
		s = strings.TrimRight(s, "\n") + "\n[output truncated]"
	}
	return s, truncated
}
