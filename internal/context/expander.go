// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"log"
	"strings"
)

// =============================================================================
// EXPANDER
// =============================================================================

// Expander turns a raw prompt into the text the model sees: a <context>
// block followed by the prompt with mentions removed.
type Expander struct {
	parser  *Parser
	fetcher *Fetcher
}

// NewExpander creates an expander. A nil fetcher resolves nothing.
func NewExpander(fetcher *Fetcher) *Expander {
	if fetcher == nil {
		fetcher = NewFetcher(nil, nil, nil, FetcherConfig{})
	}
	return &Expander{
		parser:  NewParser(),
		fetcher: fetcher,
	}
}

// ExpansionResult contains the result of expanding a prompt.
type ExpansionResult struct {
	// OriginalMessage is the raw prompt.
	OriginalMessage string

	// ExpandedMessage is what the model sees.
	ExpandedMessage string

	// CleanMessage is the prompt with mentions removed.
	CleanMessage string

	// Mentions are the parsed and fetched mentions.
	Mentions []Mention

	// Selection is the implicit selection snippet, if any.
	Selection string

	// RecentFiles are the files listed in the context block.
	RecentFiles []string

	// Errors holds mentions that could not be fetched.
	Errors []Mention
}

// HasContext reports whether anything was added to the prompt.
func (r *ExpansionResult) HasContext() bool {
	return r.ExpandedMessage != r.OriginalMessage
}

// ErrorSummary joins fetch failures as "raw: error" pairs.
func (r *ExpansionResult) ErrorSummary() string {
	var parts []string
	for _, m := range r.Errors {
		parts = append(parts, m.Raw+": "+m.Error.Error())
	}
	return strings.Join(parts, "; ")
}

// Expand parses and fetches the mentions in message. The editor selection is
// included even without @selection, and recent lists the workspace's recently
// used files. With nothing to add, ExpandedMessage equals message.
func (e *Expander) Expand(ctx context.Context, message string, recent []string) *ExpansionResult {
	result := &ExpansionResult{
		OriginalMessage: message,
		CleanMessage:    message,
		RecentFiles:     recent,
	}

	if HasMentions(message) {
		mentions, clean := e.parser.Parse(message)
		if len(mentions) > 0 {
			result.Mentions = e.fetcher.FetchAll(ctx, mentions)
			if clean != "" {
				result.CleanMessage = clean
			}
		}
	}

	explicitSelection := false
	for _, m := range result.Mentions {
		if m.Type == MentionSelection {
			explicitSelection = true
		}
		if m.Error != nil {
			result.Errors = append(result.Errors, m)
		}
	}
	if !explicitSelection {
		result.Selection = strings.TrimSpace(e.fetcher.Selection())
	}

	result.ExpandedMessage = e.build(result)
	return result
}

// build renders the context block. Mentions that failed are listed so the
// model knows the reference could not be loaded.
func (e *Expander) build(r *ExpansionResult) string {
	var sb strings.Builder

	if r.Selection != "" {
		writeBlock(&sb, "selection", "", r.Selection)
	}
	seen := make(map[string]bool)
	for _, m := range r.Mentions {
		key := m.Type.String() + ":" + m.Path + m.Query
		if seen[key] {
			continue
		}
		seen[key] = true

		switch {
		case m.Error != nil:
			writeBlock(&sb, "unavailable", `ref="`+m.Raw+`"`, m.Error.Error())
		case m.Content == "":
		case m.Type == MentionFile:
			writeBlock(&sb, "file", `path="`+m.Path+`"`, m.Content)
		case m.Type == MentionSymbol:
			writeBlock(&sb, "symbol", `name="`+m.Query+`"`, m.Content)
		default:
			writeBlock(&sb, m.Type.String(), "", m.Content)
		}
	}
	if len(r.RecentFiles) > 0 {
		writeBlock(&sb, "recent_files", "", strings.Join(r.RecentFiles, "\n"))
	}

	if sb.Len() == 0 {
		return r.OriginalMessage
	}
	return "<context>\n" + sb.String() + "</context>\n\n" + r.CleanMessage
}

func writeBlock(sb *strings.Builder, tag, attrs, body string) {
	sb.WriteString("<")
	sb.WriteString(tag)
	if attrs != "" {
		sb.WriteString(" ")
		sb.WriteString(attrs)
	}
	sb.WriteString(">\n")
	sb.WriteString(strings.TrimRight(body, "\n"))
	sb.WriteString("\n</")
	sb.WriteString(tag)
	sb.WriteString(">\n")
}

// =============================================================================
// AUGMENTER
// =============================================================================

// Augmenter adapts an Expander to the engine's augmentation hook.
type Augmenter struct {
	expander *Expander
}

// NewAugmenter returns an Augmenter backed by fetcher.
func NewAugmenter(fetcher *Fetcher) *Augmenter {
	return &Augmenter{expander: NewExpander(fetcher)}
}

// Augment returns the expanded prompt for raw.
func (a *Augmenter) Augment(ctx context.Context, raw string, recentFiles []string) string {
	result := a.expander.Expand(ctx, raw, recentFiles)
	if result.HasContext() {
		log.Printf("CONTEXT_AUGMENT | mentions=%d errors=%d recent=%d selection=%t",
			len(result.Mentions), len(result.Errors), len(result.RecentFiles), result.Selection != "")
	}
	if len(result.Errors) > 0 {
		log.Printf("CONTEXT_MENTION_FAILED | %s", result.ErrorSummary())
	}
	return result.ExpandedMessage
}
