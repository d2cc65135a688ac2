// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// READ TOOL
// =============================================================================

// ReadTool returns the file-reading tool bound to ws.
func ReadTool(ws *Workspace) *Tool {
	return &Tool{
		Name: "read",
		Description: "Read a text file from the workspace. Output is numbered like `cat -n`. " +
			"Use offset and limit to page through large files.",
		Schema: Schema{
			Parameters: []Parameter{
				{Name: "file_path", Type: "string", Required: true, Description: "Path relative to the workspace root."},
				{Name: "offset", Type: "integer", Description: "First line to return (1-based). Default: 1."},
				{Name: "limit", Type: "integer", Description: "Maximum number of lines. Default: 2000."},
			},
		},
		ReadOnly: true,
		Executor: &ReadExecutor{Workspace: ws},
	}
}

// ReadExecutor implements file reading confined to a workspace.
type ReadExecutor struct {
	Workspace *Workspace

	// MaxLines is the maximum number of lines to read (default: 2000)
	MaxLines int

	// MaxLineLength is the maximum length of a single line (default: 2000)
	MaxLineLength int
}

// Execute reads a file and returns its contents.
func (e *ReadExecutor) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	maxLines := e.MaxLines
	if maxLines <= 0 {
		maxLines = 2000
	}
	maxLineLen := e.MaxLineLength
	if maxLineLen <= 0 {
		maxLineLen = 2000
	}

	filePath, _ := params["file_path"].(string)
	if filePath == "" {
		return Result{Error: "file_path is required"}, nil
	}
	offset := getIntParam(params, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := getIntParam(params, "limit", maxLines)
	if limit <= 0 || limit > maxLines {
		limit = maxLines
	}

	absPath, rel, err := e.Workspace.Resolve(filePath)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if e.Workspace.IsSensitive(rel) {
		return Result{Error: "access denied: file contains sensitive data (credentials, keys, or secrets)"}, nil
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Error: "file not found: " + rel}, nil
		}
		return Result{Error: "cannot open file: " + err.Error()}, nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{Error: "cannot access file: " + err.Error()}, nil
	}
	if info.IsDir() {
		return Result{Error: "cannot read directory, use glob instead"}, nil
	}
	if info.Size() > e.Workspace.maxFileSize() {
		return Result{Error: "file too large (max " + humanize.IBytes(uint64(e.Workspace.maxFileSize())) + ")"}, nil
	}
	if isBinaryFileFromHandle(file) {
		return Result{Error: "cannot read binary file"}, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Result{Error: "cannot read file: " + err.Error()}, nil
	}

	var b strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum, linesRead, truncated := 0, 0, false
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			truncated = true
			break
		}

		b.WriteString(formatLineNumber(lineNum))
		b.WriteByte('\t')
		b.WriteString(util.TruncateRunes(scanner.Text(), maxLineLen))
		b.WriteByte('\n')
		linesRead++

		if linesRead%100 == 0 && ctx.Err() != nil {
			return Result{Error: "operation cancelled"}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{Error: "error reading file: " + err.Error()}, nil
	}

	output := b.String()
	if linesRead == 0 {
		output = "(no lines at offset " + strconv.Itoa(offset) + "; file has " + strconv.Itoa(lineNum) + " lines)"
	}

	e.Workspace.record(rel, false)
	return Result{
		Success:    true,
		Output:     output,
		LinesCount: linesRead,
		Truncated:  truncated,
	}, nil
}

// formatLineNumber right-aligns a line number in six columns.
func formatLineNumber(n int) string {
	s := strconv.Itoa(n)
	if pad := 6 - len(s); pad > 0 {
		return strings.Repeat(" ", pad) + s
	}
	return s
}

// isBinaryFileFromHandle checks the first 512 bytes of an open file for null
// bytes or a high share of non-printable characters.
func isBinaryFileFromHandle(file *os.File) bool {
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	buf = buf[:n]

	nonPrintable := 0
	for _, c := range buf {
		if c == 0 {
			return true
		}
		if c < 32 && c != '\n' && c != '\r' && c != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.30
}
