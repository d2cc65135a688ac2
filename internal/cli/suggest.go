// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - "Did you mean" suggestions for mistyped commands, slash
// commands and config keys.
package cli

import "strings"

// validCommands lists every command and alias ParseArgs accepts.
var validCommands = []string{
	"tui", "chat", "serve", "index", "models", "config", "doctor", "version", "help",
	"repl", "server", "idx", "model", "cfg",
}

// slashCommands lists the commands understood inside chat.
var slashCommands = []string{
	"/help", "/clear", "/model", "/models", "/select", "/status", "/history", "/quit", "/exit",
}

// SuggestCommand returns the command closest to input, or "" when nothing
// is close enough.
func SuggestCommand(input string) string {
	return suggestFrom(input, validCommands)
}

// SuggestSlashCommand is SuggestCommand for chat slash commands.
func SuggestSlashCommand(input string) string {
	return suggestFrom(input, slashCommands)
}

// suggestFrom picks the candidate with the smallest edit distance. The
// allowed distance grows with the input: one edit up to 3 runes, two up to 8
// ("hlep" -> "help"), three beyond. Exact matches and one-rune inputs get no
// suggestion.
func suggestFrom(input string, candidates []string) string {
	in := []rune(strings.ToLower(input))
	if len(in) < 2 {
		return ""
	}

	limit := 1
	switch {
	case len(in) > 8:
		limit = 3
	case len(in) >= 4:
		limit = 2
	}

	best, bestDist := "", limit+1
	for _, c := range candidates {
		d := editDistance(in, []rune(c))
		if d == 0 {
			return ""
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// editDistance is the Levenshtein distance between a and b, computed with a
// single row.
func editDistance(a, b []rune) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		diag := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min(row[j]+1, row[j-1]+1, diag+cost)
			diag = row[j]
			row[j] = next
		}
	}
	return row[len(b)]
}
