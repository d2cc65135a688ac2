// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// MENTION TYPES
// =============================================================================

// MentionType indicates the type of @ mention.
type MentionType int

const (
	MentionFile      MentionType = iota // @file:path
	MentionSelection                    // @selection
	MentionSymbol                       // @symbol:Name
	MentionCodebase                     // @codebase
)

// String returns the string representation of the mention type. It is also
// the tag name used in the context block.
func (t MentionType) String() string {
	switch t {
	case MentionFile:
		return "file"
	case MentionSelection:
		return "selection"
	case MentionSymbol:
		return "symbol"
	case MentionCodebase:
		return "codebase"
	default:
		return "unknown"
	}
}

// =============================================================================
// MENTION STRUCT
// =============================================================================

// Mention represents a parsed @ mention in user input.
type Mention struct {
	Type MentionType

	// Raw is the original text (e.g. "@file:src/main.go").
	Raw string

	// Path for file mentions, workspace-relative once fetched.
	Path string

	// Query for symbol mentions.
	Query string

	// Content is populated after fetching.
	Content string

	// Error if fetching failed.
	Error error

	// Start and End are byte offsets in the original input.
	Start int
	End   int
}

// IsResolved returns true if the mention has been fetched.
func (m *Mention) IsResolved() bool {
	return m.Content != "" || m.Error != nil
}

// =============================================================================
// PARSER
// =============================================================================

// Parser parses @ mentions from user input.
type Parser struct {
	patterns map[MentionType]*regexp.Regexp
}

// NewParser creates a new mention parser.
func NewParser() *Parser {
	return &Parser{
		patterns: map[MentionType]*regexp.Regexp{
			// @file:path or @file:"path with spaces"
			MentionFile:      regexp.MustCompile(`@file:(?:"([^"]+)"|'([^']+)'|(\S+))`),
			MentionSelection: regexp.MustCompile(`@selection\b`),
			MentionSymbol:    regexp.MustCompile(`@symbol:([\w.$]+)`),
			MentionCodebase:  regexp.MustCompile(`@codebase\b`),
		},
	}
}

// mentionOrder fixes the scan order so results are deterministic.
var mentionOrder = []MentionType{MentionFile, MentionSelection, MentionSymbol, MentionCodebase}

// Parse extracts all @ mentions from input, ordered by position, and returns
// them with the remaining text.
func (p *Parser) Parse(input string) ([]Mention, string) {
	var (
		mentions []Mention
		removals []removal
	)

	for _, typ := range mentionOrder {
		for _, match := range p.patterns[typ].FindAllStringSubmatchIndex(input, -1) {
			m := Mention{
				Type:  typ,
				Raw:   input[match[0]:match[1]],
				Start: match[0],
				End:   match[1],
			}
			switch typ {
			case MentionFile:
				m.Path = firstGroup(input, match)
			case MentionSymbol:
				m.Query = firstGroup(input, match)
			}
			mentions = append(mentions, m)
			removals = append(removals, removal{match[0], match[1]})
		}
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Start < mentions[j].Start
	})
	return mentions, removeMentions(input, removals)
}

// firstGroup returns the first non-empty capture group of a submatch index.
func firstGroup(input string, match []int) string {
	for i := 2; i+1 < len(match); i += 2 {
		if match[i] != -1 {
			return input[match[i]:match[i+1]]
		}
	}
	return ""
}

// MentionPrefixes lists the mention prefixes for completion.
func MentionPrefixes() []string {
	return []string{"@file:", "@selection", "@symbol:", "@codebase"}
}

// =============================================================================
// HELPERS
// =============================================================================

type removal struct {
	start, end int
}

// removeMentions removes the ranges from input and collapses whitespace on
// each line. Newlines are kept.
func removeMentions(input string, removals []removal) string {
	if len(removals) == 0 {
		return input
	}

	sort.Slice(removals, func(i, j int) bool {
		return removals[i].start > removals[j].start
	})

	result := input
	for _, r := range removals {
		end := r.end
		for end < len(result) && result[end] == ' ' {
			end++
		}
		result = result[:r.start] + result[end:]
	}

	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// HasMentions returns true if the input contains any @ mention.
func HasMentions(input string) bool {
	for _, prefix := range MentionPrefixes() {
		if strings.Contains(input, prefix) {
			return true
		}
	}
	return false
}

// HighlightMentions returns input with each mention wrapped by highlighter.
func HighlightMentions(input string, highlighter func(mention string) string) string {
	if highlighter == nil {
		return input
	}
	mentions, _ := NewParser().Parse(input)
	if len(mentions) == 0 {
		return input
	}

	var sb strings.Builder
	last := 0
	for _, m := range mentions {
		if m.Start < last {
			continue
		}
		sb.WriteString(input[last:m.Start])
		sb.WriteString(highlighter(m.Raw))
		last = m.End
	}
	sb.WriteString(input[last:])
	return sb.String()
}
