// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models_cmd.go - Models command implementation.
//
// Command: models [name]
// Aliases: model
//
// Examples:
//   rigrun-chat models                 List installed models
//   rigrun-chat models llama3.1:8b     Check one model (exit 7 if missing)
//   rigrun-chat models --json
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// HandleModels handles the "models" command. current is the configured model.
func HandleModels(ctx context.Context, lister bridge.ModelLister, current string, args Args) error {
	return runModels(ctx, os.Stdout, lister, current, args)
}

func runModels(ctx context.Context, out io.Writer, lister bridge.ModelLister, current string, args Args) error {
	models, err := lister.ListModels(ctx)
	if err != nil {
		return NewCommandError("models", "list", "could not list installed models", err)
	}

	target := current
	if args.Query != "" {
		target = args.Query
	}
	entries := bridge.NewModelEntries(target, models)

	installed := false
	for _, e := range entries {
		if e.Current {
			installed = true
			break
		}
	}

	if args.Query != "" {
		var found []bridge.ModelEntry
		for _, e := range entries {
			if e.Current {
				found = append(found, e)
			}
		}
		if args.JSON {
			resp := NewJSONResponse("models", ModelsData{Current: target, Installed: installed, Models: found})
			if !installed {
				msg := "model not installed: " + target
				resp.Success = false
				resp.Error = &msg
			}
			if err := resp.Print(); err != nil {
				return err
			}
		} else if installed {
			printModelTable(out, found)
		}
		if !installed {
			return &NotFoundError{Resource: "model", ID: target + " (run: ollama pull " + target + ")"}
		}
		return nil
	}

	if args.JSON {
		return NewJSONResponse("models", ModelsData{Current: current, Installed: installed, Models: entries}).Print()
	}

	if !args.Quiet {
		fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("Installed models (%d)", len(entries))))
	}
	printModelTable(out, entries)
	if !installed && current != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, styles.RenderWarning(fmt.Sprintf("Configured model %s is not installed. Run: ollama pull %s", current, current)))
	}
	return nil
}
