// rigrun-chat - A local coding assistant for your editor and terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/cli"
	"github.com/jeranaias/rigrun-chat/internal/config"
	ctxpkg "github.com/jeranaias/rigrun-chat/internal/context"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/ui/chat"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// shutdownTimeout bounds the graceful stop of the websocket server.
const shutdownTimeout = 10 * time.Second

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cmd, args := cli.Parse()
	if err := run(cmd, args); err != nil {
		cli.DisplayError(err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}

// run routes a parsed command to its handler.
func run(cmd cli.Command, args cli.Args) error {
	ctx := context.Background()

	switch cmd {
	case cli.CmdDefault:
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.UI.Mode == "repl" || !cli.IsTTY() {
			return runChat(cfg, args)
		}
		return runTUI(cfg, args)
	case cli.CmdTUI:
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runTUI(cfg, args)
	case cli.CmdChat:
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runChat(cfg, args)
	case cli.CmdServe:
		return runServe(args)
	case cli.CmdIndex:
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rt, err := openRuntime(cfg, args)
		if err != nil {
			return err
		}
		defer rt.Close()
		return cli.HandleIndex(ctx, rt, args)
	case cli.CmdModels:
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		args.NoIndex = true
		rt, err := openRuntime(cfg, args)
		if err != nil {
			return err
		}
		defer rt.Close()
		return cli.HandleModels(ctx, rt.Client, rt.Model(), args)
	case cli.CmdConfig:
		return cli.HandleConfig(args)
	case cli.CmdDoctor:
		return cli.HandleDoctor(ctx, args)
	case cli.CmdVersion:
		return cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
		return nil
	default:
		return cli.HandleUnknown(args)
	}
}

// openRuntime opens the shared runtime with the global flags applied.
func openRuntime(cfg *config.Config, args cli.Args) (*app.Runtime, error) {
	return app.Open(cfg, app.Options{
		Model:   args.Model,
		Root:    args.Workspace,
		NoIndex: args.NoIndex,
	})
}

// setupTerminalLogging keeps log lines out of an interactive surface.
func setupTerminalLogging(cfg *config.Config, args cli.Args) func() {
	path, err := cfg.LogFilePath()
	if err != nil {
		path = ""
	}
	closer, err := app.SetupLogging(path, !args.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return func() { closer.Close() }
}

// =============================================================================
// TERMINAL SURFACES
// =============================================================================

func runChat(cfg *config.Config, args cli.Args) error {
	defer setupTerminalLogging(cfg, args)()

	rt, err := openRuntime(cfg, args)
	if err != nil {
		return err
	}
	defer rt.Close()
	return cli.HandleChat(rt, args)
}

func runTUI(cfg *config.Config, args cli.Args) error {
	defer setupTerminalLogging(cfg, args)()

	rt, err := openRuntime(cfg, args)
	if err != nil {
		return err
	}
	defer rt.Close()

	sink := chat.NewProgramSink()
	b, _ := rt.NewBridge(sink)
	m := chat.New(styles.NewTheme(), b, chat.Options{
		Model:    rt.Model(),
		Root:     rt.Workspace.Root,
		Markdown: cfg.UI.Markdown,
		ReadSelection: func(spec string) (string, error) {
			return ctxpkg.ReadSelection(rt.Workspace, spec)
		},
	})

	// Cancelling ctx unblocks Send once the program has exited.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	sink.Attach(p.Send)
	if rt.Index != nil {
		go func() {
			err := rt.BuildIndex(ctx)
			msg := chat.IndexReadyMsg{Err: err}
			if err == nil {
				msg.Summary = fmt.Sprintf("Indexed %s", rt.Index.Stats())
			}
			p.Send(msg)
		}()
	}

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// =============================================================================
// WEBSOCKET BRIDGE
// =============================================================================

func runServe(args cli.Args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}
	if args.Token != "" {
		cfg.Server.Token = args.Token
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if path, err := cfg.LogFilePath(); err == nil && path != "" {
		closer, err := app.SetupLogging(path, false)
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	rt, err := openRuntime(cfg, args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Client.CheckRunning(ctx); err != nil {
		log.Printf("SERVE_OLLAMA_UNAVAILABLE | url=%s err=%v", rt.Client.BaseURL(), err)
		if !args.Quiet {
			fmt.Fprintln(os.Stderr, styles.RenderWarning("Ollama is not reachable at "+rt.Client.BaseURL()+"; panels will report errors until it starts."))
		}
	}

	sessions := rt.NewSessionManager()
	if args.Verbose {
		sessions.SetCloseCallback(func(id string) {
			fmt.Fprintln(os.Stderr, styles.RenderInfo("Panel "+id+" closed"))
		})
	}
	srv := server.New(sessions, server.Config{
		Addr:           cfg.Server.Addr,
		Token:          cfg.Server.Token,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		Version:        Version,
	}).WithHealthChecker(rt.Client).WithModelLister(rt.Client)
	if rt.Index != nil {
		srv = srv.WithIndex(rt.Index)
	}

	if !args.Quiet {
		fmt.Fprintln(os.Stderr, styles.RenderInfo(fmt.Sprintf("rigrun-chat %s serving %s on ws://%s/ws", Version, rt.Workspace.Root, srv.Addr())))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		return sessions.Run(gctx)
	})
	g.Go(func() error {
		if err := rt.BuildIndex(gctx); err != nil {
			log.Printf("SERVE_INDEX_FAILED | err=%v", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		sessions.Shutdown()
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
