// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"fmt"
	"strings"
)

// SearchResult is a symbol with its file.
type SearchResult struct {
	Symbol
	FilePath string
	Language string
}

// SearchOptions configures SearchSymbols.
type SearchOptions struct {
	// MaxResults limits the result count (0 uses 50).
	MaxResults int

	// Types filters by symbol type (empty means all).
	Types []SymbolType

	// ExportedOnly drops unexported symbols.
	ExportedOnly bool
}

// DefaultSearchOptions returns default search options.
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{MaxResults: 50}
}

// SearchSymbols finds symbols whose name contains query, case-insensitively.
// Exact matches rank first, then prefix matches, then exported symbols.
func (idx *WorkspaceIndex) SearchSymbols(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	if !idx.IsIndexed() {
		return nil, ErrNotIndexed
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if opts == nil {
		opts = DefaultSearchOptions()
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `
		SELECT s.name, s.type, s.line, s.signature, s.parent, s.exported, f.path, f.language
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE s.name LIKE ? ESCAPE '\'`
	args := []interface{}{"%" + escapeLike(query) + "%"}

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		sqlQuery += " AND s.type IN (" + strings.Join(placeholders, ",") + ")"
	}
	if opts.ExportedOnly {
		sqlQuery += " AND s.exported = 1"
	}

	sqlQuery += `
		ORDER BY
			CASE WHEN lower(s.name) = lower(?) THEN 0
			     WHEN lower(s.name) LIKE lower(?) ESCAPE '\' THEN 1
			     ELSE 2 END,
			s.exported DESC, f.path, s.line
		LIMIT ?`
	args = append(args, query, escapeLike(query)+"%", limit)

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			symType  string
			sig      *string
			parent   *string
			language *string
		)
		if err := rows.Scan(&r.Name, &symType, &r.Line, &sig, &parent, &r.Exported, &r.FilePath, &language); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		r.Type = SymbolType(symType)
		if sig != nil {
			r.Signature = *sig
		}
		if parent != nil {
			r.Parent = *parent
		}
		if language != nil {
			r.Language = *language
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Format renders a result as path:line followed by the signature.
func (r SearchResult) Format() string {
	sig := r.Signature
	if sig == "" {
		sig = strings.ToLower(string(r.Type)) + " " + r.Name
	}
	if r.Parent != "" && !strings.Contains(sig, r.Parent) {
		sig += " (" + r.Parent + ")"
	}
	return fmt.Sprintf("%s:%d  %s", r.FilePath, r.Line, sig)
}
