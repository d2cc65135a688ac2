// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// index_cmd.go - Index command implementation.
//
// Command: index [subcommand]
// Aliases: idx
//
// Subcommands:
//   build (default)     Scan the workspace and update the index
//   stats               File and symbol counts
//   search <query>      Search declarations by name
//   recent              Recently read or written files
//   languages           Files per language
//
// Flags:
//   --limit N           Maximum results for search and recent (default: 20)
//
// Examples:
//   rigrun-chat index
//   rigrun-chat index search NewServer --limit 5
//   rigrun-chat -w ~/src/project index stats --json
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/index"
)

// ErrIndexDisabled is returned when the index command runs with --no-index
// or the index database could not be opened.
var ErrIndexDisabled = errors.New("workspace index is not available")

// HandleIndex handles the "index" command.
func HandleIndex(ctx context.Context, rt *app.Runtime, args Args) error {
	return runIndex(ctx, os.Stdout, rt, args)
}

func runIndex(ctx context.Context, out io.Writer, rt *app.Runtime, args Args) error {
	if rt.Index == nil {
		return NewCommandError("index", "open", "run without --no-index and check workspace.index_db", ErrIndexDisabled)
	}

	switch strings.ToLower(args.Subcommand) {
	case "", "build", "rebuild":
		return indexBuild(ctx, out, rt, args)
	case "stats", "status":
		return indexStats(out, rt, args, 0)
	case "search", "find":
		return indexSearch(ctx, out, rt, args)
	case "recent":
		return indexRecent(out, rt, args)
	case "languages", "langs":
		return indexLanguages(out, rt, args)
	default:
		return &ValidationError{
			Field:   "index subcommand",
			Value:   args.Subcommand,
			Reason:  "expected build, stats, search, recent or languages",
			Example: "rigrun-chat index search NewServer",
		}
	}
}

func indexBuild(ctx context.Context, out io.Writer, rt *app.Runtime, args Args) error {
	if !args.Quiet && !args.JSON {
		fmt.Fprintf(out, "Indexing %s ...\n", rt.Index.Root())
	}
	start := time.Now()
	if err := rt.BuildIndex(ctx); err != nil {
		return err
	}
	return indexStats(out, rt, args, time.Since(start))
}

func indexData(rt *app.Runtime, elapsed time.Duration) (IndexData, error) {
	stats := rt.Index.Stats()
	langs, err := rt.Index.LanguageStats()
	if err != nil {
		return IndexData{}, err
	}
	data := IndexData{
		Root:         rt.Index.Root(),
		Files:        stats.FileCount,
		Symbols:      stats.SymbolCount,
		TrackedFiles: stats.TrackedFiles,
		DatabaseSize: stats.DatabaseSize,
		Languages:    langs,
		DurationMs:   elapsed.Milliseconds(),
	}
	if !stats.LastIndexed.IsZero() {
		data.LastIndexed = stats.LastIndexed.Format(time.RFC3339)
	}
	return data, nil
}

func indexStats(out io.Writer, rt *app.Runtime, args Args, elapsed time.Duration) error {
	data, err := indexData(rt, elapsed)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("index", data).Print()
	}

	stats := rt.Index.Stats()
	last := "never"
	if !stats.LastIndexed.IsZero() {
		last = humanize.Time(stats.LastIndexed)
	}

	fmt.Fprintln(out, TitleStyle.Render("Workspace index"))
	fmt.Fprintln(out, RenderSeparator(40))
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Root", 10), ValueStyle.Render(data.Root))
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Files", 10), humanize.Comma(int64(data.Files)))
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Symbols", 10), humanize.Comma(int64(data.Symbols)))
	fmt.Fprintf(out, "%s %d\n", RenderLabel("Tracked", 10), data.TrackedFiles)
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Indexed", 10), last)
	fmt.Fprintf(out, "%s %s\n", RenderLabel("Database", 10), humanize.IBytes(uint64(data.DatabaseSize)))
	if elapsed > 0 {
		fmt.Fprintf(out, "%s %s\n", RenderLabel("Took", 10), elapsed.Round(time.Millisecond))
	}
	return nil
}

// ensureIndexed builds the index when no scan has completed yet.
func ensureIndexed(ctx context.Context, rt *app.Runtime) error {
	if rt.Index.IsIndexed() {
		return nil
	}
	return rt.BuildIndex(ctx)
}

func indexSearch(ctx context.Context, out io.Writer, rt *app.Runtime, args Args) error {
	if args.Query == "" {
		return ErrMissingArgument("query", "rigrun-chat index search NewServer")
	}
	if err := ensureIndexed(ctx, rt); err != nil {
		return err
	}

	results, err := rt.Index.SearchSymbols(ctx, args.Query, &index.SearchOptions{MaxResults: args.Limit})
	if err != nil {
		return err
	}

	if args.JSON {
		data := make([]SymbolData, len(results))
		for i, r := range results {
			data[i] = SymbolData{
				Name:      r.Name,
				Type:      r.Type.String(),
				File:      r.FilePath,
				Line:      r.Line,
				Signature: r.Signature,
			}
		}
		return NewJSONResponse("index", data).Print()
	}

	if len(results) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No symbols match "+args.Query))
		return nil
	}
	for _, r := range results {
		fmt.Fprintln(out, r.Format())
	}
	return nil
}

func indexRecent(out io.Writer, rt *app.Runtime, args Args) error {
	activity, err := rt.Index.Activity(args.Limit)
	if err != nil {
		return err
	}

	if args.JSON {
		data := make([]ActivityData, len(activity))
		for i, a := range activity {
			data[i] = ActivityData{
				Path:       a.Path,
				Reads:      a.Reads,
				Writes:     a.Writes,
				LastAccess: a.LastAccess.Format(time.RFC3339),
			}
		}
		return NewJSONResponse("index", data).Print()
	}

	if len(activity) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No file activity recorded yet"))
		return nil
	}
	for _, a := range activity {
		fmt.Fprintf(out, "%-50s  r:%-3d w:%-3d  %s\n", a.Path, a.Reads, a.Writes, DimStyle.Render(humanize.Time(a.LastAccess)))
	}
	return nil
}

func indexLanguages(out io.Writer, rt *app.Runtime, args Args) error {
	langs, err := rt.Index.LanguageStats()
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("index", langs).Print()
	}

	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(out, "%s %s\n", RenderLabel(name, 12), humanize.Comma(int64(langs[name])))
	}
	return nil
}
