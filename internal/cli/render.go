// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Markdown and code rendering for terminal output.
package cli

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// Renderer turns assistant answers into terminal output. The zero value
// passes text through unchanged.
type Renderer struct {
	markdown *glamour.TermRenderer
	color    bool
}

// NewRenderer returns a renderer wrapping at width columns (0 uses the
// terminal width). Markdown is skipped when markdown is false; colors follow
// color.
func NewRenderer(markdown bool, width int, color bool) *Renderer {
	r := &Renderer{color: color}
	if !markdown {
		return r
	}
	if width <= 0 {
		width = GetTerminalWidth() - 2
	}

	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err == nil {
		r.markdown = md
	}
	return r
}

// Markdown renders content as markdown, or returns it unchanged when
// rendering is off or fails.
func (r *Renderer) Markdown(content string) string {
	if r == nil || r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// Highlight colors code for the terminal. language may be empty.
func (r *Renderer) Highlight(code, language string) string {
	if r == nil || !r.color {
		return code
	}
	return highlightCode(code, language)
}

func highlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
