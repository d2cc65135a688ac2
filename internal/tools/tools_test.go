// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	ws, err := NewWorkspace(dir)
	require.NoError(t, err)
	return ws
}

type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) RecordAccess(rel string, write bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if write {
		rel = "w:" + rel
	}
	r.entries = append(r.entries, rel)
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistry_BuiltinNamesAndDescriptors(t *testing.T) {
	reg := NewBuiltinRegistry(newTestWorkspace(t, nil))

	require.Equal(t, []string{"glob", "grep", "read", "write"}, reg.Names())

	descs := reg.Describe()
	require.Len(t, descs, 4)
	for _, d := range descs {
		require.Equal(t, "object", d.Parameters.Type)
		require.NotEmpty(t, d.Description)
		require.NotEmpty(t, d.Parameters.Required, "tool %s should declare required params", d.Name)
	}

	b, err := json.Marshal(descs[0])
	require.NoError(t, err)
	require.Contains(t, string(b), `"required":["pattern"]`)
}

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	reg := NewBuiltinRegistry(newTestWorkspace(t, nil))

	_, err := reg.Invoke(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	require.True(t, IsToolNotFound(err))
	require.Equal(t, "tool nonexistent not found", err.Error())
}

func TestRegistry_Invoke_Errors(t *testing.T) {
	tests := []struct {
		name string
		exec ExecutorFunc
		args map[string]interface{}
		want string
	}{
		{
			name: "missing required",
			exec: func(ctx context.Context, p map[string]interface{}) (Result, error) { return Result{Success: true}, nil },
			args: map[string]interface{}{},
			want: "missing required argument",
		},
		{
			name: "unsuccessful result",
			exec: func(ctx context.Context, p map[string]interface{}) (Result, error) { return Result{Error: "nope"}, nil },
			args: map[string]interface{}{"x": "1"},
			want: "nope",
		},
		{
			name: "executor error",
			exec: func(ctx context.Context, p map[string]interface{}) (Result, error) { return Result{}, errors.New("boom") },
			args: map[string]interface{}{"x": "1"},
			want: "boom",
		},
		{
			name: "panic",
			exec: func(ctx context.Context, p map[string]interface{}) (Result, error) { panic("kaboom") },
			args: map[string]interface{}{"x": "1"},
			want: "panic: kaboom",
		},
		{
			name: "wrong type",
			exec: func(ctx context.Context, p map[string]interface{}) (Result, error) { return Result{Success: true}, nil },
			args: map[string]interface{}{"x": 42.0},
			want: "expected string type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register(&Tool{
				Name:     "probe",
				Schema:   Schema{Parameters: []Parameter{{Name: "x", Type: "string", Required: true}}},
				Executor: tc.exec,
			})

			_, err := reg.Invoke(context.Background(), "probe", tc.args)
			require.Error(t, err)
			require.True(t, IsExecution(err))
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRegistry_Invoke_Timeout(t *testing.T) {
	reg := NewRegistry()
	reg.Timeout = 20 * time.Millisecond
	reg.Register(&Tool{
		Name: "slow",
		Executor: ExecutorFunc(func(ctx context.Context, p map[string]interface{}) (Result, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return Result{Success: true}, nil
		}),
	})

	_, err := reg.Invoke(context.Background(), "slow", nil)
	require.Error(t, err)
	require.True(t, IsExecution(err))
	require.Contains(t, err.Error(), "timed out")
}

func TestResult_TextNeverEmpty(t *testing.T) {
	var nilMap map[string]string
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"output", Result{Success: true, Output: "ok"}, "ok"},
		{"data", Result{Success: true, Data: map[string]int{"n": 1}}, `{"n":1}`},
		{"nothing", Result{Success: true}, NoOutput},
		{"nil data", Result{Success: true, Data: nilMap}, NoOutput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.res.Text())
		})
	}

	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "quiet",
		Executor: ExecutorFunc(func(ctx context.Context, p map[string]interface{}) (Result, error) {
			return Result{Success: true}, nil
		}),
	})
	res, err := reg.Invoke(context.Background(), "quiet", nil)
	require.NoError(t, err)
	require.Equal(t, NoOutput, res.Text())
}

func TestRegistry_Invoke_TruncatesOutput(t *testing.T) {
	reg := NewRegistry()
	reg.MaxOutput = 10
	reg.Register(&Tool{
		Name: "chatty",
		Executor: ExecutorFunc(func(ctx context.Context, p map[string]interface{}) (Result, error) {
			return Result{Success: true, Output: strings.Repeat("y", 100)}, nil
		}),
	})

	res, err := reg.Invoke(context.Background(), "chatty", nil)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.True(t, strings.HasSuffix(res.Output, "[output truncated]"))
}

func TestValidateToolArgs_Enum(t *testing.T) {
	schema := &Schema{Parameters: []Parameter{{Name: "mode", Type: "string", Enum: []string{"a", "b"}}}}

	require.NoError(t, ValidateToolArgs(schema, map[string]interface{}{"mode": "a"}))
	require.Error(t, ValidateToolArgs(schema, map[string]interface{}{"mode": "c"}))
	require.NoError(t, ValidateToolArgs(schema, map[string]interface{}{}))
}

func TestValidateToolArgs_Integer(t *testing.T) {
	schema := &Schema{Parameters: []Parameter{{Name: "n", Type: "integer"}}}

	require.NoError(t, ValidateToolArgs(schema, map[string]interface{}{"n": 3.0}))
	require.Error(t, ValidateToolArgs(schema, map[string]interface{}{"n": 3.5}))
	require.Error(t, ValidateToolArgs(schema, map[string]interface{}{"n": "3"}))
}

// =============================================================================
// WORKSPACE TESTS
// =============================================================================

func TestWorkspace_Resolve(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"src/a.go": "package a"})

	tests := []struct {
		name    string
		in      string
		wantRel string
		wantErr bool
	}{
		{"root", "", ".", false},
		{"relative", "src/a.go", "src/a.go", false},
		{"dot segments", "src/../src/a.go", "src/a.go", false},
		{"absolute inside", filepath.Join(ws.Root, "src"), "src", false},
		{"missing file", "src/new.go", "src/new.go", false},
		{"escape", "../outside.txt", "", true},
		{"absolute outside", "/etc/passwd", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, rel, err := ws.Resolve(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrOutsideWorkspace))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantRel, rel)
		})
	}
}

func TestWorkspace_SymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0644))

	ws := newTestWorkspace(t, nil)
	if err := os.Symlink(outside, filepath.Join(ws.Root, "link")); err != nil {
		t.Skip("symlinks not supported:", err)
	}

	_, _, err := ws.Resolve("link/secret.txt")
	require.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestWorkspace_IsSensitive(t *testing.T) {
	ws := newTestWorkspace(t, nil)

	for _, p := range []string{".env", "config/.env.local", "certs/server.pem", ".ssh/config", "deploy/credentials.json"} {
		require.True(t, ws.IsSensitive(p), p)
	}
	for _, p := range []string{"main.go", "env.go", "docs/keys.md"} {
		require.False(t, ws.IsSensitive(p), p)
	}
}

// =============================================================================
// GLOB TESTS
// =============================================================================

func TestGlob_NewestFirst(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		"src/util.ts":              "x",
		"src/components/Button.ts": "x",
		"README.md":                "x",
		"node_modules/lib/index.ts": "x",
	})
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(ws.Root, "src/util.ts"), old, old))

	reg := NewBuiltinRegistry(ws)
	res, err := reg.Invoke(context.Background(), "glob", map[string]interface{}{"pattern": "**/*.ts"})
	require.NoError(t, err)

	out := res.Data.(GlobOutput)
	require.Equal(t, []string{"src/components/Button.ts", "src/util.ts"}, out.Files)
	require.JSONEq(t, `{"files":["src/components/Button.ts","src/util.ts"]}`, res.Text())
}

func TestGlob_RejectsEscapingPattern(t *testing.T) {
	reg := NewBuiltinRegistry(newTestWorkspace(t, nil))

	_, err := reg.Invoke(context.Background(), "glob", map[string]interface{}{"pattern": "../**/*.go"})
	require.Error(t, err)
	require.True(t, IsExecution(err))
}

func TestMatchGlobPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "a/b/c.go", true},
		{"src/**/*.ts", "src/a/b.ts", true},
		{"src/**/*.ts", "lib/a/b.ts", false},
		{"src/**", "src/a/b.ts", true},
		{"**/test/**/*.go", "a/test/b/c_test.go", true},
	}

	for _, tc := range tests {
		t.Run(tc.pattern+"|"+tc.path, func(t *testing.T) {
			got, err := matchGlobPattern(tc.pattern, tc.path)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// =============================================================================
// GREP TESTS
// =============================================================================

func TestGrep_OutputModes(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		"a.go":   "package a\nfunc Foo() {}\n",
		"b.go":   "package b\n// foo helper\nfunc foo() {}\n",
		"c.txt":  "Foo\n",
		".env":   "FOO=secret\n",
		"d.png":  "Foo",
	})
	reg := NewBuiltinRegistry(ws)
	ctx := context.Background()

	res, err := reg.Invoke(ctx, "grep", map[string]interface{}{"pattern": "foo", "glob": "*.go"})
	require.NoError(t, err)
	require.Equal(t, 2, res.MatchCount)
	require.Contains(t, res.Output, "b.go:2:// foo helper")
	require.NotContains(t, res.Output, "a.go")

	res, err = reg.Invoke(ctx, "grep", map[string]interface{}{"pattern": "foo", "case_insensitive": true, "output_mode": "files_with_matches"})
	require.NoError(t, err)
	require.NotContains(t, res.Output, ".env")
	require.NotContains(t, res.Output, "d.png")
	require.Contains(t, res.Output, "a.go")
	require.Contains(t, res.Output, "c.txt")

	res, err = reg.Invoke(ctx, "grep", map[string]interface{}{"pattern": "foo", "output_mode": "count"})
	require.NoError(t, err)
	require.Contains(t, res.Output, "b.go:2")

	_, err = reg.Invoke(ctx, "grep", map[string]interface{}{"pattern": "foo", "output_mode": "bogus"})
	require.Error(t, err)
}

func TestGrep_InvalidRegex(t *testing.T) {
	reg := NewBuiltinRegistry(newTestWorkspace(t, nil))

	_, err := reg.Invoke(context.Background(), "grep", map[string]interface{}{"pattern": "("})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid regex")
}

func TestGrep_HeadLimit(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"many.txt": strings.Repeat("hit\n", 20)})
	reg := NewBuiltinRegistry(ws)

	res, err := reg.Invoke(context.Background(), "grep", map[string]interface{}{"pattern": "hit", "head_limit": 5.0})
	require.NoError(t, err)
	require.Equal(t, 5, res.MatchCount)
	require.True(t, res.Truncated)
}

// =============================================================================
// READ / WRITE TESTS
// =============================================================================

func TestRead_NumberedWithOffset(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"notes.txt": "one\ntwo\nthree\nfour\n"})
	rec := &recorder{}
	ws.Recorder = rec
	reg := NewBuiltinRegistry(ws)

	res, err := reg.Invoke(context.Background(), "read", map[string]interface{}{"file_path": "notes.txt", "offset": 2.0, "limit": 2.0})
	require.NoError(t, err)
	require.Equal(t, "     2\ttwo\n     3\tthree\n", res.Output)
	require.True(t, res.Truncated)
	require.Equal(t, []string{"notes.txt"}, rec.entries)
}

func TestRead_Refusals(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		".env":    "TOKEN=x",
		"bin.dat": "a\x00b",
		"dir/x":   "x",
	})
	reg := NewBuiltinRegistry(ws)

	tests := []struct {
		path string
		want string
	}{
		{".env", "sensitive"},
		{"bin.dat", "binary"},
		{"dir", "directory"},
		{"missing.txt", "not found"},
		{"../etc/passwd", "access denied"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			_, err := reg.Invoke(context.Background(), "read", map[string]interface{}{"file_path": tc.path})
			require.Error(t, err)
			require.True(t, IsExecution(err))
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWrite_CreateAndOverwrite(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	rec := &recorder{}
	ws.Recorder = rec
	reg := NewBuiltinRegistry(ws)
	ctx := context.Background()

	res, err := reg.Invoke(ctx, "write", map[string]interface{}{"file_path": "pkg/new.go", "content": "package pkg\n"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Output, "Created pkg/new.go"))

	res, err = reg.Invoke(ctx, "write", map[string]interface{}{"file_path": "pkg/new.go", "content": "package pkg\n\nvar X = 1\n"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Output, "Overwrote pkg/new.go"))

	data, err := os.ReadFile(filepath.Join(ws.Root, "pkg", "new.go"))
	require.NoError(t, err)
	require.Equal(t, "package pkg\n\nvar X = 1\n", string(data))
	require.Equal(t, []string{"w:pkg/new.go", "w:pkg/new.go"}, rec.entries)
}

func TestWrite_Refusals(t *testing.T) {
	reg := NewBuiltinRegistry(newTestWorkspace(t, nil))

	for _, p := range []string{".env", "../escape.txt", "keys/server.key"} {
		t.Run(p, func(t *testing.T) {
			_, err := reg.Invoke(context.Background(), "write", map[string]interface{}{"file_path": p, "content": "x"})
			require.Error(t, err)
			require.True(t, IsExecution(err))
		})
	}
}

func TestCountLines(t *testing.T) {
	require.Equal(t, 0, countLines(""))
	require.Equal(t, 1, countLines("a"))
	require.Equal(t, 1, countLines("a\n"))
	require.Equal(t, 2, countLines("a\nb"))
}
