// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// GLOB TOOL
// =============================================================================

// GlobTool returns the file-listing tool bound to ws.
func GlobTool(ws *Workspace) *Tool {
	return &Tool{
		Name: "glob",
		Description: "Find files in the workspace whose path matches a glob pattern such as \"**/*.ts\" or " +
			"\"src/**/*.go\". Returns workspace-relative paths, most recently modified first.",
		Schema: Schema{
			Parameters: []Parameter{
				{Name: "pattern", Type: "string", Required: true, Description: "Glob pattern; ** matches across directories."},
				{Name: "path", Type: "string", Description: "Directory to search, relative to the workspace root. Default: the root."},
			},
		},
		ReadOnly: true,
		Executor: &GlobExecutor{Workspace: ws},
	}
}

// GlobExecutor implements file pattern matching.
// Supports glob patterns like "**/*.go" or "src/**/*.ts".
type GlobExecutor struct {
	Workspace *Workspace

	// MaxResults limits the number of results (default: 100)
	MaxResults int
}

// GlobOutput is the structured result of a glob call.
type GlobOutput struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated,omitempty"`
	Total     int      `json:"total,omitempty"`
}

// fileEntry holds file path and modification time.
type fileEntry struct {
	path    string
	modTime time.Time
}

// Execute finds files matching a glob pattern.
func (e *GlobExecutor) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	maxResults := e.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return Result{Error: "pattern is required"}, nil
	}
	if err := validateGlobPattern(pattern); err != nil {
		return Result{Error: err.Error()}, nil
	}

	basePath, baseRel, err := e.Workspace.Resolve(getStringParam(params, "path", "."))
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if _, err := os.Stat(basePath); err != nil {
		if os.IsNotExist(err) {
			return Result{Error: "path not found: " + baseRel}, nil
		}
		return Result{Error: "cannot access path: " + err.Error()}, nil
	}

	var matches []fileEntry
	total := 0

	walkErr := filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != basePath && e.Workspace.ShouldIgnoreDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		matched, err := matchGlobPattern(pattern, rel)
		if err != nil || !matched {
			return nil
		}

		total++
		if len(matches) >= maxResults {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		wsRel, _ := filepath.Rel(e.Workspace.Root, path)
		matches = append(matches, fileEntry{path: filepath.ToSlash(wsRel), modTime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return Result{Error: "operation cancelled"}, nil
		}
		return Result{Error: "error walking directory: " + walkErr.Error()}, nil
	}

	// Most recent first; ties broken by path for stable output.
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].modTime.Equal(matches[j].modTime) {
			return matches[i].modTime.After(matches[j].modTime)
		}
		return matches[i].path < matches[j].path
	})

	out := GlobOutput{Files: make([]string, len(matches))}
	for i, m := range matches {
		out.Files[i] = m.path
	}
	if total > len(matches) {
		out.Truncated = true
		out.Total = total
	}

	return Result{
		Success:      true,
		Data:         out,
		FilesMatched: len(matches),
		Truncated:    out.Truncated,
	}, nil
}

// PatternError represents an invalid glob pattern.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern '" + e.Pattern + "': " + e.Reason
}

// validateGlobPattern rejects patterns that could walk out of the workspace.
func validateGlobPattern(pattern string) error {
	normalized := strings.ReplaceAll(pattern, "\\", "/")
	if strings.HasPrefix(normalized, "/") {
		return &PatternError{Pattern: pattern, Reason: "pattern must be relative to the workspace"}
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return &PatternError{Pattern: pattern, Reason: "pattern contains '..' which could escape the workspace"}
		}
	}
	if _, err := filepath.Match(strings.ReplaceAll(normalized, "**", "*"), ""); err != nil {
		return &PatternError{Pattern: pattern, Reason: err.Error()}
	}
	return nil
}

// matchGlobPattern matches a path against a glob pattern.
// Supports:
// - * matches any sequence of characters within a path segment
// - ** matches any sequence of characters including path separators
// - ? matches any single character
func matchGlobPattern(pattern, path string) (bool, error) {
	pattern = filepath.ToSlash(pattern)
	path = filepath.ToSlash(path)
	if !strings.Contains(pattern, "**") {
		return filepath.Match(pattern, path)
	}
	return matchDoublestarPattern(pattern, path)
}

// matchDoublestarPattern handles patterns containing **.
func matchDoublestarPattern(pattern, path string) (bool, error) {
	idx := strings.Index(pattern, "**")
	prefix := strings.TrimSuffix(pattern[:idx], "/")
	suffix := strings.TrimPrefix(pattern[idx+2:], "/")

	remaining := path
	if prefix != "" {
		// The prefix must match whole leading segments.
		segs := strings.Split(path, "/")
		n := len(strings.Split(prefix, "/"))
		if len(segs) < n {
			return false, nil
		}
		ok, err := filepath.Match(prefix, strings.Join(segs[:n], "/"))
		if err != nil || !ok {
			return false, err
		}
		remaining = strings.Join(segs[n:], "/")
	}
	return matchSuffixPattern(suffix, remaining)
}

// matchSuffixPattern tries suffix against every tail of path.
func matchSuffixPattern(suffix, path string) (bool, error) {
	if suffix == "" {
		return true, nil
	}
	if strings.Contains(suffix, "**") {
		parts := strings.Split(path, "/")
		for i := 0; i <= len(parts); i++ {
			ok, err := matchDoublestarPattern(suffix, strings.Join(parts[i:], "/"))
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	parts := strings.Split(path, "/")
	for i := 0; i < len(parts); i++ {
		matched, err := filepath.Match(suffix, strings.Join(parts[i:], "/"))
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// GREP TOOL
// =============================================================================

// GrepTool returns the content-search tool bound to ws.
func GrepTool(ws *Workspace) *Tool {
	return &Tool{
		Name: "grep",
		Description: "Search file contents in the workspace with a regular expression. Returns matching lines " +
			"as path:line:text, or just file names or counts depending on output_mode.",
		Schema: Schema{
			Parameters: []Parameter{
				{Name: "pattern", Type: "string", Required: true, Description: "Regular expression (RE2 syntax)."},
				{Name: "path", Type: "string", Description: "File or directory to search, relative to the workspace root."},
				{Name: "glob", Type: "string", Description: "Only search files matching this glob, e.g. \"*.go\"."},
				{Name: "case_insensitive", Type: "boolean", Description: "Match without regard to case."},
				{Name: "output_mode", Type: "string", Description: "content, files_with_matches, or count.", Enum: []string{"content", "files_with_matches", "count"}, Default: "content"},
				{Name: "head_limit", Type: "integer", Description: "Maximum number of matches to return. Default: 50."},
			},
		},
		ReadOnly: true,
		Executor: &GrepExecutor{Workspace: ws},
	}
}

// GrepExecutor implements content searching with regex.
type GrepExecutor struct {
	Workspace *Workspace

	// MaxResults limits the number of matches (default: 50)
	MaxResults int
}

// grepMatch represents a single grep match.
type grepMatch struct {
	file       string
	lineNumber int
	content    string
}

// Execute searches for a pattern in files.
func (e *GrepExecutor) Execute(ctx context.Context, params map[string]interface{}) (Result, error) {
	limit := getIntParam(params, "head_limit", e.MaxResults)
	if limit <= 0 {
		limit = 50
	}

	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return Result{Error: "pattern is required"}, nil
	}
	if getBoolParam(params, "case_insensitive", false) && !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{Error: "invalid regex pattern: " + err.Error()}, nil
	}

	outputMode := getStringParam(params, "output_mode", "content")
	globFilter := getStringParam(params, "glob", "")

	basePath, baseRel, err := e.Workspace.Resolve(getStringParam(params, "path", "."))
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	info, err := os.Stat(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Error: "path not found: " + baseRel}, nil
		}
		return Result{Error: "cannot access path: " + err.Error()}, nil
	}

	var (
		matches   []grepMatch
		perFile   = make(map[string]int)
		fileOrder []string
		truncated bool
	)

	searchOne := func(path string) error {
		rel, _ := filepath.Rel(e.Workspace.Root, path)
		rel = filepath.ToSlash(rel)
		if e.Workspace.IsSensitive(rel) || isBinaryFileByExtension(path) {
			return nil
		}
		fi, err := os.Stat(path)
		if err != nil || fi.Size() > e.Workspace.maxFileSize() {
			return nil
		}
		found, err := searchFile(ctx, path, rel, re, limit-len(matches))
		if err != nil {
			return err
		}
		if len(found) > 0 {
			perFile[rel] = len(found)
			fileOrder = append(fileOrder, rel)
			matches = append(matches, found...)
		}
		if len(matches) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	}

	if !info.IsDir() {
		if e.Workspace.IsSensitive(baseRel) {
			return Result{Error: "access denied: cannot search sensitive file " + baseRel}, nil
		}
		err = searchOne(basePath)
	} else {
		err = filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != basePath && e.Workspace.ShouldIgnoreDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if globFilter != "" {
				rel, _ := filepath.Rel(basePath, path)
				ok, _ := matchGlobPattern(globFilter, rel)
				if !ok {
					ok, _ = matchGlobPattern(globFilter, filepath.Base(path))
				}
				if !ok {
					return nil
				}
			}
			return searchOne(path)
		})
	}
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Error: "operation cancelled"}, nil
		}
		return Result{Error: "error searching: " + err.Error()}, nil
	}

	var output string
	switch {
	case len(matches) == 0:
		output = "No matches found for pattern: " + re.String()
	case outputMode == "files_with_matches":
		output = strings.Join(fileOrder, "\n")
	case outputMode == "count":
		var b strings.Builder
		for _, f := range fileOrder {
			b.WriteString(f + ":" + strconv.Itoa(perFile[f]) + "\n")
		}
		b.WriteString("\nTotal: " + strconv.Itoa(len(matches)) + " matches in " + strconv.Itoa(len(fileOrder)) + " files")
		output = b.String()
	default:
		var b strings.Builder
		for i, m := range matches {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(m.file + ":" + strconv.Itoa(m.lineNumber) + ":" + m.content)
		}
		output = b.String()
	}
	if truncated {
		output += "\n\n[Results limited to " + strconv.Itoa(limit) + " matches]"
	}

	return Result{
		Success:      true,
		Output:       output,
		MatchCount:   len(matches),
		FilesMatched: len(fileOrder),
		Truncated:    truncated,
	}, nil
}

// searchFile scans one file line by line and returns up to limit matches.
func searchFile(ctx context.Context, path, rel string, re *regexp.Regexp, limit int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var matches []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := scanner.Text()
		if re.MatchString(text) {
			matches = append(matches, grepMatch{file: rel, lineNumber: line, content: util.TruncateRunes(text, 500)})
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// isBinaryFileByExtension checks if a file is likely binary by extension.
func isBinaryFileByExtension(path string) bool {
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}

var binaryExts = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".bin": true, ".dat": true, ".db": true, ".sqlite": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".ico": true, ".bmp": true, ".tiff": true, ".webp": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true,
	".xlsx": true, ".ppt": true, ".pptx": true,
	".zip": true, ".tar": true, ".gz": true, ".rar": true,
	".7z": true, ".bz2": true, ".xz": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	".wav": true, ".flac": true, ".ogg": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true,
	".pyc": true, ".pyo": true, ".class": true,
	".o": true, ".a": true, ".lib": true,
}
