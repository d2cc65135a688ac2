// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/index"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrFileNotFound is returned when a mentioned file doesn't exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileTooLarge is returned when a file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrSensitiveFile is returned for credential and key files.
	ErrSensitiveFile = errors.New("file is protected")

	// ErrNoSelection is returned for @selection when nothing is selected.
	ErrNoSelection = errors.New("no text selected")

	// ErrNoIndex is returned for @symbol and @codebase without an index.
	ErrNoIndex = errors.New("workspace index unavailable")

	// ErrSymbolNotFound is returned when a symbol query has no results.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// =============================================================================
// FETCHER CONFIG
// =============================================================================

// FetcherConfig holds limits for fetched content.
type FetcherConfig struct {
	// MaxFileSize is the largest file @file will include (default 100KB).
	MaxFileSize int64

	// MaxLines caps included lines per file (default 1000).
	MaxLines int

	// MaxSymbols caps @symbol matches (default 10).
	MaxSymbols int

	// SymbolExcerptLines is how many lines of the best match are included
	// (default 30).
	SymbolExcerptLines int

	// CodebaseRecent is how many recent files the @codebase summary lists.
	CodebaseRecent int
}

// DefaultFetcherConfig returns the default limits.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxFileSize:        100 * 1024,
		MaxLines:           1000,
		MaxSymbols:         10,
		SymbolExcerptLines: 30,
		CodebaseRecent:     5,
	}
}

func (c *FetcherConfig) fillDefaults() {
	def := DefaultFetcherConfig()
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = def.MaxFileSize
	}
	if c.MaxLines <= 0 {
		c.MaxLines = def.MaxLines
	}
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = def.MaxSymbols
	}
	if c.SymbolExcerptLines <= 0 {
		c.SymbolExcerptLines = def.SymbolExcerptLines
	}
	if c.CodebaseRecent <= 0 {
		c.CodebaseRecent = def.CodebaseRecent
	}
}

// Index is the subset of the workspace index used by @symbol and @codebase.
type Index interface {
	SearchSymbols(ctx context.Context, query string, opts *index.SearchOptions) ([]index.SearchResult, error)
	Summary(recent int) (string, error)
}

// =============================================================================
// FETCHER
// =============================================================================

// Fetcher resolves mention content. File access goes through the same
// workspace confinement as the file tools.
type Fetcher struct {
	ws     *tools.Workspace
	idx    Index
	cache  *FileCache
	config FetcherConfig

	// selection returns the editor's current selection.
	selection func() string
}

// NewFetcher creates a fetcher for ws. idx and cache may be nil.
func NewFetcher(ws *tools.Workspace, idx Index, cache *FileCache, config FetcherConfig) *Fetcher {
	config.fillDefaults()
	return &Fetcher{
		ws:     ws,
		idx:    idx,
		cache:  cache,
		config: config,
	}
}

// SetSelection sets the source of @selection content.
func (f *Fetcher) SetSelection(selection func() string) {
	f.selection = selection
}

// Selection returns the current selection, or "".
func (f *Fetcher) Selection() string {
	if f.selection == nil {
		return ""
	}
	return f.selection()
}

// FetchAll fetches content for every mention.
func (f *Fetcher) FetchAll(ctx context.Context, mentions []Mention) []Mention {
	result := make([]Mention, len(mentions))
	copy(result, mentions)
	for i := range result {
		f.Fetch(ctx, &result[i])
	}
	return result
}

// Fetch fetches content for a single mention.
func (f *Fetcher) Fetch(ctx context.Context, m *Mention) {
	switch m.Type {
	case MentionFile:
		var rel string
		rel, m.Content, m.Error = f.FetchFile(m.Path)
		if rel != "" {
			m.Path = rel
		}
	case MentionSelection:
		m.Content = strings.TrimSpace(f.Selection())
		if m.Content == "" {
			m.Error = ErrNoSelection
		}
	case MentionSymbol:
		m.Content, m.Error = f.FetchSymbol(ctx, m.Query)
	case MentionCodebase:
		m.Content, m.Error = f.FetchCodebase()
	}
}

// =============================================================================
// FILE FETCHER
// =============================================================================

// FetchFile reads a workspace file and returns its relative path and
// line-numbered content.
func (f *Fetcher) FetchFile(path string) (string, string, error) {
	if f.ws == nil {
		return "", "", ErrFileNotFound
	}
	abs, rel, err := f.ws.Resolve(path)
	if err != nil {
		return "", "", err
	}
	if f.ws.IsSensitive(rel) {
		return rel, "", ErrSensitiveFile
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return rel, "", ErrFileNotFound
		}
		return rel, "", err
	}
	if info.IsDir() {
		return rel, "", fmt.Errorf("%s is a directory", rel)
	}
	if info.Size() > f.config.MaxFileSize {
		return rel, "", fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(f.config.MaxFileSize)))
	}

	if f.cache != nil {
		if content, ok := f.cache.Get(rel, info.ModTime()); ok {
			f.recordAccess(rel)
			return rel, content, nil
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return rel, "", err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	truncated := len(lines) > f.config.MaxLines
	if truncated {
		lines = lines[:f.config.MaxLines]
	}
	content := formatWithLineNumbers(lines, 1)
	if truncated {
		content += fmt.Sprintf("... (truncated at %d lines)\n", f.config.MaxLines)
	}

	if f.cache != nil {
		f.cache.Put(rel, content, info.ModTime())
	}
	f.recordAccess(rel)
	return rel, content, nil
}

func (f *Fetcher) recordAccess(rel string) {
	if f.ws.Recorder != nil {
		f.ws.Recorder.RecordAccess(rel, false)
	}
}

// formatWithLineNumbers numbers lines starting at first.
func formatWithLineNumbers(lines []string, first int) string {
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%4d| %s\n", first+i, line)
	}
	return sb.String()
}

// =============================================================================
// INDEX FETCHERS
// =============================================================================

// FetchSymbol lists index matches for query and includes an excerpt of the
// best match.
func (f *Fetcher) FetchSymbol(ctx context.Context, query string) (string, error) {
	if f.idx == nil {
		return "", ErrNoIndex
	}
	results, err := f.idx.SearchSymbols(ctx, query, &index.SearchOptions{MaxResults: f.config.MaxSymbols})
	if err != nil {
		if errors.Is(err, index.ErrNotIndexed) {
			return "", ErrNoIndex
		}
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, query)
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(r.Format())
		sb.WriteString("\n")
	}

	best := results[0]
	if excerpt, err := f.excerpt(best.FilePath, best.Line); err == nil && excerpt != "" {
		fmt.Fprintf(&sb, "\n%s:\n%s", best.FilePath, excerpt)
	}
	return sb.String(), nil
}

// excerpt returns SymbolExcerptLines numbered lines starting at line.
func (f *Fetcher) excerpt(rel string, line int) (string, error) {
	if f.ws == nil || f.ws.IsSensitive(rel) {
		return "", ErrSensitiveFile
	}
	abs, _, err := f.ws.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.Size() > f.config.MaxFileSize {
		return "", ErrFileTooLarge
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return "", nil
	}
	end := line - 1 + f.config.SymbolExcerptLines
	if end > len(lines) {
		end = len(lines)
	}
	return formatWithLineNumbers(lines[line-1:end], line), nil
}

// FetchCodebase returns the workspace index summary.
func (f *Fetcher) FetchCodebase() (string, error) {
	if f.idx == nil {
		return "", ErrNoIndex
	}
	summary, err := f.idx.Summary(f.config.CodebaseRecent)
	if errors.Is(err, index.ErrNotIndexed) {
		return "", ErrNoIndex
	}
	return summary, err
}
