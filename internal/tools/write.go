// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// WRITE TOOL
// =============================================================================

// WriteTool returns the file-writing tool bound to ws.
func WriteTool(ws *Workspace) *Tool {
	return &Tool{
		Name: "write",
		Description: "Create or overwrite a file in the workspace with the given content. " +
			"Parent directories are created as needed.",
		Schema: Schema{
			Parameters: []Parameter{
				{Name: "file_path", Type: "string", Required: true, Description: "Path relative to the workspace root."},
				{Name: "content", Type: "string", Required: true, Description: "Full file content to write."},
			},
		},
		Executor: &WriteExecutor{Workspace: ws},
	}
}

// WriteExecutor implements atomic file writing confined to a workspace.
type WriteExecutor struct {
	Workspace *Workspace

	// MaxFileSize is the maximum content size (default: the workspace limit)
	MaxFileSize int64
}

// Execute writes content to a file.
func (e *WriteExecutor) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	maxSize := e.MaxFileSize
	if maxSize <= 0 {
		maxSize = e.Workspace.maxFileSize()
	}

	filePath, _ := params["file_path"].(string)
	content, _ := params["content"].(string)
	if filePath == "" {
		return Result{Error: "file_path is required"}, nil
	}

	absPath, rel, err := e.Workspace.Resolve(filePath)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if rel == "." {
		return Result{Error: "cannot write to the workspace root"}, nil
	}
	if e.Workspace.IsSensitive(rel) {
		return Result{Error: "access denied: cannot write to sensitive file " + rel}, nil
	}
	if int64(len(content)) > maxSize {
		return Result{Error: "content too large (" + humanize.IBytes(uint64(len(content))) + "), max " + humanize.IBytes(uint64(maxSize))}, nil
	}
	if ctx.Err() != nil {
		return Result{Error: "operation cancelled"}, nil
	}

	existed := false
	var existingSize int64
	if info, err := os.Stat(absPath); err == nil {
		if info.IsDir() {
			return Result{Error: "cannot write to " + rel + ": path is a directory"}, nil
		}
		existed = true
		existingSize = info.Size()
	}

	if err := util.AtomicWriteFile(absPath, []byte(content), 0644); err != nil {
		return Result{Error: "cannot write file: " + err.Error()}, nil
	}

	lines := countLines(content)
	size := humanize.IBytes(uint64(len(content)))
	var output string
	if existed {
		output = "Overwrote " + rel + " (" + strconv.Itoa(lines) + " lines, " + size + ") [was " + humanize.IBytes(uint64(existingSize)) + "]"
	} else {
		output = "Created " + rel + " (" + strconv.Itoa(lines) + " lines, " + size + ")"
	}

	e.Workspace.record(rel, true)
	return Result{
		Success:      true,
		Output:       output,
		BytesWritten: int64(len(content)),
		LinesCount:   lines,
	}, nil
}

// countLines counts lines, treating a trailing partial line as a line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
