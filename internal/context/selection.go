// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// ReadSelection reads the text a terminal surface uses as the editor
// selection. spec is "path", "path:N" or "path:N-M" (1-based, inclusive).
func ReadSelection(ws *tools.Workspace, spec string) (string, error) {
	path, start, end := spec, 1, -1
	if i := strings.LastIndex(spec, ":"); i > 0 {
		if a, b, err := ParseLineRange(spec[i+1:]); err == nil {
			path, start, end = spec[:i], a, b
		}
	}

	abs, _, err := ws.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if end < 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("%s has %d lines", path, len(lines))
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// ParseLineRange parses "N" or "N-M".
func ParseLineRange(s string) (int, int, error) {
	from, to, found := strings.Cut(s, "-")
	a, err := strconv.Atoi(from)
	if err != nil || a < 1 {
		return 0, 0, fmt.Errorf("invalid line %q", from)
	}
	if !found {
		return a, a, nil
	}
	b, err := strconv.Atoi(to)
	if err != nil || b < a {
		return 0, 0, fmt.Errorf("invalid line range %q", s)
	}
	return a, b, nil
}
