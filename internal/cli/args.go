// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by the index, models, config, doctor and
// serve commands. Global flags are removed by parseGlobalFlags first.
package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits command arguments into flags and positional arguments.
//
// Accepted forms:
//
//	--name value   -n value   --name=value   --name   --
//
// A flag followed by another flag or by nothing is boolean. Names passed to
// NewArgParser as switches are always boolean, so "--fix now" keeps "now" as
// a positional argument. Everything after "--" is positional.
type ArgParser struct {
	flags      map[string]string
	switches   map[string]bool
	positional []string
}

// NewArgParser parses raw. switches names the flags that never take a value.
//
//	p := NewArgParser([]string{"search", "NewServer", "--limit", "5"})
//	p.Subcommand()      // "search"
//	p.Positional(1)     // "NewServer"
//	p.Flag("limit")     // "5"
func NewArgParser(raw []string, switches ...string) *ArgParser {
	p := &ArgParser{
		flags:    make(map[string]string),
		switches: make(map[string]bool),
	}
	isSwitch := make(map[string]bool, len(switches))
	for _, s := range switches {
		isSwitch[s] = true
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		switch {
		case arg == "--":
			p.positional = append(p.positional, raw[i+1:]...)
			return p

		case len(arg) < 2 || arg[0] != '-':
			p.positional = append(p.positional, arg)

		default:
			name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
			switch {
			case hasValue && isSwitch[name]:
				b, err := ParseBoolString(value)
				p.switches[name] = err == nil && b
			case hasValue:
				p.flags[name] = value
			case !isSwitch[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-"):
				i++
				p.flags[name] = raw[i]
			default:
				p.switches[name] = true
			}
		}
	}
	return p
}

// Subcommand returns the first positional argument, e.g. "stats" in
// "index stats".
func (p *ArgParser) Subcommand() string {
	return p.Positional(0)
}

// Flag returns the value of a flag, or "" when it was not given a value.
func (p *ArgParser) Flag(name string) string {
	return p.flags[strings.TrimLeft(name, "-")]
}

// FlagOrDefault returns the flag value or def when it is empty.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// FlagInt returns the flag value as an integer.
func (p *ArgParser) FlagInt(name string) (int, error) {
	v := p.Flag(name)
	if v == "" {
		return 0, fmt.Errorf("flag --%s not set", strings.TrimLeft(name, "-"))
	}
	return strconv.Atoi(v)
}

// FlagIntOrDefault returns the flag as an integer, or def when it is missing
// or not a number.
func (p *ArgParser) FlagIntOrDefault(name string, def int) int {
	n, err := p.FlagInt(name)
	if err != nil {
		return def
	}
	return n
}

// BoolFlag reports whether a boolean flag was given.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.switches[strings.TrimLeft(name, "-")]
}

// HasFlag reports whether the flag was given in any form.
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, isValue := p.flags[name]
	_, isSwitch := p.switches[name]
	return isValue || isSwitch
}

// Positional returns the positional argument at index, or "". Index 0 is
// the subcommand.
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments from index on.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// =============================================================================
// HELPERS
// =============================================================================

// ParseBoolString accepts true/false, yes/no, y/n, 1/0 and on/off in any case.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// JoinPositionalArgs joins the positional arguments from startIndex, so
// "index search http handler" yields "http handler".
func JoinPositionalArgs(parser *ArgParser, startIndex int) string {
	return strings.Join(parser.PositionalFrom(startIndex), " ")
}
