// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and small command handlers for rigrun-chat.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdDefault Command = iota // ui.mode decides between TUI and REPL
	CmdTUI
	CmdChat
	CmdServe
	CmdIndex
	CmdModels
	CmdConfig
	CmdDoctor
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdDefault:
		return "default"
	case CmdTUI:
		return "tui"
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdIndex:
		return "index"
	case CmdModels:
		return "models"
	case CmdConfig:
		return "config"
	case CmdDoctor:
		return "doctor"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet     bool
	Verbose   bool
	JSON      bool
	NoIndex   bool
	Model     string
	Workspace string

	// Command-specific
	Subcommand string
	Query      string
	ConfigKey  string
	ConfigVal  string
	Addr       string
	Token      string
	Limit      int
	Fix        bool

	// Name is the unrecognized command for CmdUnknown.
	Name string

	// Raw args (remaining after the command name)
	Raw []string
}

const usageText = `rigrun-chat - local coding assistant for your editor

Chat with a local Ollama model about the code in your workspace. The model
can read, search and edit files through a small set of tools, and every
prompt carries your editor selection, @file mentions and recently used files.

Usage:
  rigrun-chat                      Start the default surface (ui.mode)
  rigrun-chat tui                  Full-screen terminal chat
  rigrun-chat chat                 Line-based chat (REPL)
  rigrun-chat serve                Websocket bridge for editor webviews
  rigrun-chat index [subcommand]   Workspace index
  rigrun-chat models [name]        Installed Ollama models
  rigrun-chat config [subcommand]  Configuration
  rigrun-chat doctor               Check Ollama, model, config and workspace
  rigrun-chat version              Version information

Index Commands:
  rigrun-chat index build          Scan the workspace (default)
  rigrun-chat index stats          File and symbol counts
  rigrun-chat index search QUERY   Search declarations
    --limit N                      Maximum results (default: 20)
  rigrun-chat index recent         Recently read or written files
  rigrun-chat index languages      Files per language

Config Commands:
  rigrun-chat config show          Show the effective configuration
  rigrun-chat config get KEY       Show one value (e.g. engine.max_rounds)
  rigrun-chat config set KEY VAL   Change one value and save
  rigrun-chat config keys          List every key
  rigrun-chat config path          Show the config file location
  rigrun-chat config reset         Restore defaults

Serve Flags:
  --addr HOST:PORT   Listen address (default: 127.0.0.1:8790)
  --token TOKEN      Bearer token required from clients

Global Flags:
  -m, --model NAME       Model to start with (overrides config)
  -w, --workspace DIR    Workspace root (default: current directory)
  --no-index             Do not open the workspace index
  --json                 Machine-readable output (models, index, config, doctor, version)
  -q, --quiet            Minimal output
  -v, --verbose          Verbose logging

Chat Commands (inside chat):
  /help  /clear  /model [name]  /models  /status  /history  /quit
  @file:path  @selection  @symbol:Name  @codebase

Examples:
  rigrun-chat chat --model llama3.1:8b
  rigrun-chat serve --addr 127.0.0.1:9000 --token secret
  rigrun-chat index search NewServer
  rigrun-chat config set engine.max_rounds 8

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("rigrun-chat version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses command-line arguments and returns the command and args.
func ParseArgs(args []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(args)

	if len(remaining) == 0 {
		return CmdDefault, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "tui":
		return CmdTUI, parsedArgs

	case "chat", "repl":
		return CmdChat, parsedArgs

	case "serve", "server":
		parseServeArgs(&parsedArgs, remaining)
		return CmdServe, parsedArgs

	case "index", "idx":
		parseIndexArgs(&parsedArgs, remaining)
		return CmdIndex, parsedArgs

	case "models", "model":
		p := NewArgParser(remaining)
		parsedArgs.Query = p.Subcommand()
		return CmdModels, parsedArgs

	case "config", "cfg":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "doctor":
		parsedArgs.Fix = NewArgParser(remaining, "fix").BoolFlag("fix")
		return CmdDoctor, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		parsedArgs.Name = cmd
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Global flags may appear before or after the command.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--no-index":
			parsedArgs.NoIndex = true
		case "-m", "--model":
			if i+1 < len(args) {
				i++
				parsedArgs.Model = args[i]
			}
		case "-w", "--workspace":
			if i+1 < len(args) {
				i++
				parsedArgs.Workspace = args[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				parsedArgs.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--workspace="):
				parsedArgs.Workspace = strings.TrimPrefix(arg, "--workspace=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// parseServeArgs parses serve command specific arguments.
func parseServeArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Addr = p.Flag("addr")
	args.Token = p.Flag("token")
}

// parseIndexArgs parses index command specific arguments.
func parseIndexArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Subcommand = p.Subcommand()
	args.Query = JoinPositionalArgs(p, 1)
	args.Limit = p.FlagIntOrDefault("limit", 20)
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = strings.Join(remaining[2:], " ")
		}
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// HandleVersion handles the "version" command.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}

// HandleUnknown reports an unrecognized command with a suggestion.
func HandleUnknown(args Args) error {
	msg := fmt.Sprintf("unknown command %q", args.Name)
	if s := SuggestCommand(args.Name); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return &ValidationError{Field: "command", Value: args.Name, Reason: msg, Example: "rigrun-chat help"}
}
