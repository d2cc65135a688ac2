// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
// Aliases: cfg
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Display one value
//   set <key> <value>   Change one value in the config file
//   keys                List every key
//   path                Show the config file path
//   reset               Restore defaults
//
// Examples:
//   rigrun-chat config
//   rigrun-chat config get ollama.model
//   rigrun-chat config set ollama.model qwen2.5-coder:7b
//   rigrun-chat config set workspace.ignore "dist, target"
//   rigrun-chat config show --json
//
// "show" and "get" include environment overrides (RIGRUN_CHAT_*); "set"
// and "reset" only touch the file.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	return runConfig(os.Stdout, args)
}

func runConfig(out io.Writer, args Args) error {
	switch strings.ToLower(args.Subcommand) {
	case "", "show", "list":
		return configShow(out, args)
	case "get":
		return configGet(out, args)
	case "set":
		return configSet(out, args)
	case "keys":
		return configKeys(out, args)
	case "path":
		return configPath(out, args)
	case "reset":
		return configReset(out, args)
	default:
		return &ValidationError{
			Field:   "config subcommand",
			Value:   args.Subcommand,
			Reason:  "expected show, get, set, keys, path or reset",
			Example: "rigrun-chat config get engine.max_rounds",
		}
	}
}

// redactedValues returns every key with the token masked.
func redactedValues(cfg *config.Config) map[string]interface{} {
	values := make(map[string]interface{})
	for _, key := range config.GetAllKeys() {
		v, err := cfg.Get(key)
		if err != nil {
			continue
		}
		if key == "server.token" && v != "" {
			v = "[REDACTED]"
		}
		values[key] = v
	}
	return values
}

func configShow(out io.Writer, args Args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path, _ := config.ConfigPathTOML()

	if args.JSON {
		return NewJSONResponse("config", ConfigData{Path: path, Values: redactedValues(cfg)}).Print()
	}

	fmt.Fprintln(out, TitleStyle.Render("rigrun-chat configuration"))
	fmt.Fprintf(out, "%s %s\n\n", RenderLabel("File", 8), DimStyle.Render(path))
	fmt.Fprint(out, cfg.String())
	return nil
}

func configGet(out io.Writer, args Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "rigrun-chat config get ollama.model")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	v, err := cfg.Get(args.ConfigKey)
	if err != nil {
		return configKeyError(args.ConfigKey, err)
	}

	if args.JSON {
		return NewJSONResponse("config", ConfigData{Values: map[string]interface{}{args.ConfigKey: v}}).Print()
	}
	switch val := v.(type) {
	case []string:
		fmt.Fprintln(out, strings.Join(val, ", "))
	default:
		fmt.Fprintln(out, val)
	}
	return nil
}

func configSet(out io.Writer, args Args) error {
	if args.ConfigKey == "" || args.ConfigVal == "" {
		return ErrMissingArgument("key and value", "rigrun-chat config set engine.max_rounds 8")
	}

	cfg, path, err := config.LoadFile()
	if err != nil {
		return err
	}
	value := args.ConfigVal
	if old, err := cfg.Get(args.ConfigKey); err == nil {
		if _, isBool := old.(bool); isBool {
			b, err := ParseBoolString(value)
			if err != nil {
				return ErrInvalidFormat(args.ConfigKey, value, "true or false")
			}
			value = fmt.Sprint(b)
		}
	}
	if err := cfg.Set(args.ConfigKey, value); err != nil {
		return configKeyError(args.ConfigKey, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("not saved: %w", err)
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}

	if args.JSON {
		v, _ := cfg.Get(args.ConfigKey)
		return NewJSONResponse("config", ConfigData{Path: path, Values: map[string]interface{}{args.ConfigKey: v}}).Print()
	}
	shown := args.ConfigVal
	if args.ConfigKey == "server.token" {
		shown = "[REDACTED]"
	}
	fmt.Fprintf(out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args.ConfigKey, shown)
	fmt.Fprintln(out, DimStyle.Render("Saved to "+path))
	return nil
}

func configKeys(out io.Writer, args Args) error {
	keys := config.GetAllKeys()
	if args.JSON {
		return NewJSONResponse("config", keys).Print()
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}

func configPath(out io.Writer, args Args) error {
	_, path, err := config.LoadFile()
	if err != nil {
		// An unreadable file still has a location.
		if path, err = config.ConfigPathTOML(); err != nil {
			return err
		}
	}
	if args.JSON {
		return NewJSONResponse("config", ConfigData{Path: path}).Print()
	}
	fmt.Fprintln(out, path)
	return nil
}

func configReset(out io.Writer, args Args) error {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := config.SaveTo(config.Default(), path); err != nil {
		return err
	}
	if jsonPath, err := config.ConfigPathJSON(); err == nil {
		os.Remove(jsonPath)
	}
	if args.JSON {
		return NewJSONResponse("config", ConfigData{Path: path, Values: redactedValues(config.Default())}).Print()
	}
	fmt.Fprintf(out, "%s Configuration reset to defaults\n", SuccessStyle.Render("[OK]"))
	fmt.Fprintln(out, DimStyle.Render("Saved to "+path))
	return nil
}

func configKeyError(key string, err error) error {
	example := "rigrun-chat config keys"
	if s := suggestFrom(key, config.GetAllKeys()); s != "" {
		example = s
	}
	return &ValidationError{Field: "config key", Value: key, Reason: err.Error(), Example: example}
}
