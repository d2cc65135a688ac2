// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation.
//
// Command: doctor [--fix]
//
// Health Checks Performed:
//   1. Ollama Installed   - ollama binary on PATH (warning only; the server may be remote)
//   2. Ollama Running     - the configured ollama.url answers
//   3. Model Installed    - the configured model is pulled
//   4. Config Valid       - the config file loads and validates
//   5. Workspace Readable - the workspace root can be listed
//   6. Index Writable     - the index database directory accepts writes
//
// Flags:
//   --fix               Run the suggested fix for failed checks when it is
//                       a permitted command (ollama pull, ollama serve,
//                       rigrun-chat config reset)
//   --json              Output in JSON format
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/index"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates a non-critical issue.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the lowercase status name used in JSON output.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the styled status marker.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // "Run: <command>" when the fix is a command
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), ValueStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + DimStyle.Render("     -> "+c.Fix)
	}
	return result
}

// fixCommand returns the argv for a permitted fix, or nil. Only ollama pull
// with a plain model name, ollama serve and config reset are allowed.
func fixCommand(fix string) []string {
	if !strings.HasPrefix(fix, "Run: ") {
		return nil
	}
	cmd := strings.TrimSpace(strings.TrimPrefix(fix, "Run: "))

	switch cmd {
	case "ollama serve":
		return []string{"ollama", "serve"}
	case "rigrun-chat config reset":
		return []string{"rigrun-chat", "config", "reset"}
	}

	if name, ok := strings.CutPrefix(cmd, "ollama pull "); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		for _, ch := range name {
			if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
				(ch >= '0' && ch <= '9') || ch == '-' || ch == '_' ||
				ch == ':' || ch == '.' || ch == '/') {
				return nil
			}
		}
		return []string{"ollama", "pull", name}
	}
	return nil
}

// TryFix runs the check's fix when it is a permitted command.
func (c *HealthCheck) TryFix(out io.Writer) error {
	if c.Fix == "" || c.Status == CheckPass {
		return nil
	}
	argv := fixCommand(c.Fix)
	if argv == nil {
		return fmt.Errorf("manual fix required: %s", c.Fix)
	}

	fmt.Fprintf(out, "  Attempting fix: %s\n", strings.Join(argv, " "))
	if argv[0] == "rigrun-chat" {
		// Run in-process rather than through PATH.
		return runConfig(out, Args{Subcommand: "reset"})
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if argv[1] == "serve" {
		// The server keeps running after doctor exits.
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("fix failed: %w", err)
		}
		return cmd.Process.Release()
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fix failed: %w", err)
	}
	return nil
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// doctorEnv is what the checks inspect.
type doctorEnv struct {
	cfg      *config.Config
	cfgErr   error
	client   *ollama.Client
	model    string
	root     string
	lookPath func(string) (string, error)
}

func newDoctorEnv(args Args) *doctorEnv {
	env := &doctorEnv{lookPath: exec.LookPath}

	cfg, err := config.Load()
	if err != nil {
		env.cfgErr = err
		// Keep checking with whatever the file holds.
		if fileCfg, _, ferr := config.LoadFile(); ferr == nil {
			cfg = fileCfg
		} else {
			cfg = config.Default()
		}
	}
	env.cfg = cfg

	env.client = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		Timeout:      cfg.Ollama.TimeoutDuration(),
		ProbeTimeout: cfg.Ollama.ProbeTimeoutDuration(),
	})

	env.model = cfg.Ollama.Model
	if args.Model != "" {
		env.model = args.Model
	}
	env.root = cfg.Workspace.Root
	if args.Workspace != "" {
		env.root = args.Workspace
	}
	if env.root == "" {
		env.root, _ = os.Getwd()
	}
	return env
}

// HandleDoctor handles the "doctor" command.
func HandleDoctor(ctx context.Context, args Args) error {
	return runDoctor(ctx, os.Stdout, newDoctorEnv(args), args)
}

func runDoctor(ctx context.Context, out io.Writer, env *doctorEnv, args Args) error {
	checks := runAllChecks(ctx, env)

	passed, warned, failed := countChecks(checks)

	if args.JSON {
		return doctorJSON(checks, passed, warned, failed)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, TitleStyle.Render("rigrun-chat doctor"))
	fmt.Fprintln(out, RenderSeparator(41))
	for _, check := range checks {
		fmt.Fprintln(out, check.Render())
	}
	fmt.Fprintln(out, RenderSeparator(41))

	parts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	fmt.Fprintln(out, DimStyle.Render(strings.Join(parts, ", ")))
	fmt.Fprintln(out)

	if args.Fix && failed > 0 {
		fmt.Fprintln(out, TitleStyle.Render("Attempting fixes"))
		for _, check := range checks {
			if check.Status != CheckFail || check.Fix == "" {
				continue
			}
			msg := "Fixed " + check.Name
			err := check.TryFix(out)
			if err != nil {
				msg = fmt.Sprintf("Could not fix %s: %v", check.Name, err)
			}
			fmt.Fprintln(out, "  "+styles.RenderStatus(err == nil, msg))
		}
		fmt.Fprintln(out)
	}

	if failed > 0 {
		return fmt.Errorf("%d health check(s) failed", failed)
	}
	return nil
}

func countChecks(checks []*HealthCheck) (passed, warned, failed int) {
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}
	return passed, warned, failed
}

func doctorJSON(checks []*HealthCheck, passed, warned, failed int) error {
	jsonChecks := make([]DoctorCheck, 0, len(checks))
	for _, check := range checks {
		jsonChecks = append(jsonChecks, DoctorCheck{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Fix:     check.Fix,
		})
	}

	resp := NewJSONResponse("doctor", DoctorData{
		Checks: jsonChecks,
		Summary: DoctorSummary{
			Passed:  passed,
			Warned:  warned,
			Failed:  failed,
			Healthy: failed == 0,
		},
	})
	if failed > 0 {
		msg := fmt.Sprintf("%d health check(s) failed", failed)
		resp.Success = false
		resp.Error = &msg
	}
	return resp.Print()
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

func runAllChecks(ctx context.Context, env *doctorEnv) []*HealthCheck {
	running := checkOllamaRunning(ctx, env)
	checks := []*HealthCheck{
		checkOllamaInstalled(env),
		running,
	}
	if running.Status == CheckPass {
		checks = append(checks, checkModelInstalled(ctx, env))
	} else {
		checks = append(checks, &HealthCheck{
			Name:    "Model Installed",
			Status:  CheckWarn,
			Message: fmt.Sprintf("Model %s not checked (Ollama unreachable)", env.model),
		})
	}
	return append(checks,
		checkConfigValid(env),
		checkWorkspaceReadable(env),
		checkIndexWritable(env),
	)
}

func checkOllamaInstalled(env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Ollama Installed"}
	path, err := env.lookPath("ollama")
	if err != nil {
		check.Status = CheckWarn
		check.Message = "ollama binary not found on PATH"
		check.Fix = "Install from https://ollama.com/download (not needed for a remote ollama.url)"
		return check
	}
	check.Status = CheckPass
	check.Message = "ollama found at " + path
	return check
}

func checkOllamaRunning(ctx context.Context, env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Ollama Running"}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := env.client.CheckRunning(ctx); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Ollama not reachable at %s", env.client.BaseURL())
		check.Fix = "Run: ollama serve"
		return check
	}
	check.Status = CheckPass
	check.Message = "Ollama running at " + env.client.BaseURL()
	return check
}

func checkModelInstalled(ctx context.Context, env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Model Installed"}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := env.client.ShowModel(ctx, env.model)
	switch {
	case err == nil:
		check.Status = CheckPass
		check.Message = fmt.Sprintf("Model %s installed", env.model)
	case ollama.IsModelNotFound(err):
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Model %s not installed", env.model)
		check.Fix = "Run: ollama pull " + env.model
	default:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Could not check model %s: %v", env.model, err)
	}
	return check
}

func checkConfigValid(env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}
	if env.cfgErr != nil {
		check.Status = CheckFail
		check.Message = "Config invalid: " + env.cfgErr.Error()
		check.Fix = "Run: rigrun-chat config reset"
		return check
	}
	check.Status = CheckPass
	check.Message = "Config valid"
	if path, err := config.ConfigPathTOML(); err == nil {
		check.Message += " (" + path + ")"
	}
	return check
}

func checkWorkspaceReadable(env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Workspace Readable"}
	entries, err := os.ReadDir(env.root)
	if err != nil {
		check.Status = CheckFail
		check.Message = "Workspace not readable: " + err.Error()
		check.Fix = "Pass a readable directory with --workspace"
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("Workspace %s (%d entries)", env.root, len(entries))
	return check
}

func checkIndexWritable(env *doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Index Writable"}

	dbPath := env.cfg.Workspace.IndexDB
	if dbPath == "" {
		dbPath = index.DefaultConfig(env.root).DatabasePath
	}
	dir := filepath.Dir(dbPath)

	if err := os.MkdirAll(dir, 0700); err != nil {
		check.Status = CheckWarn
		check.Message = "Index directory cannot be created: " + err.Error()
		check.Fix = "Set workspace.index_db to a writable path, or use --no-index"
		return check
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		check.Status = CheckWarn
		check.Message = "Index directory not writable: " + err.Error()
		check.Fix = "Set workspace.index_db to a writable path, or use --no-index"
		return check
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	check.Status = CheckPass
	check.Message = "Index writable (" + dbPath + ")"
	return check
}
