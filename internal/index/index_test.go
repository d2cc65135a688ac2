// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func openTestIndex(t *testing.T, root string, watch bool) *WorkspaceIndex {
	t.Helper()
	cfg := DefaultConfig(root)
	cfg.DatabasePath = filepath.Join(t.TempDir(), "index.db")
	cfg.EnableWatch = watch
	cfg.WatchDebounce = 50 * time.Millisecond

	idx, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

var sampleWorkspace = map[string]string{
	"main.go":                   "package main\n\nfunc main() {}\n\nfunc helper() int { return 1 }\n",
	"src/app.ts":                "export class App {}\nexport function render(x: number) {}\nconst local = 1\n",
	"src/util.py":               "class Store:\n    def get(self):\n        pass\n\ndef _private():\n    pass\n",
	"README.md":                 "# sample\n",
	"node_modules/dep/index.js": "function ignored() {}\n",
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	require.False(t, idx.IsIndexed())
	require.NoError(t, idx.Build(context.Background()))
	require.True(t, idx.IsIndexed())

	stats := idx.Stats()
	require.Equal(t, 4, stats.FileCount, "node_modules is skipped")
	require.Equal(t, 2+3+3, stats.SymbolCount)
	require.Contains(t, stats.String(), "4 files")

	langs, err := idx.LanguageStats()
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Go": 1, "TypeScript": 1, "Python": 1, "Markdown": 1}, langs)
}

func TestBuild_Rebuild(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)
	require.NoError(t, idx.Build(context.Background()))

	idx.RecordAccess("main.go", false)
	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))
	require.NoError(t, idx.Build(context.Background()))

	require.Equal(t, 3, idx.Stats().FileCount)
	require.Equal(t, []string{"main.go"}, idx.RecentFiles(5), "access history survives a rebuild")
}

func TestBuild_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, idx.Build(ctx), context.Canceled)
	require.False(t, idx.IsIndexed())
}

func TestRecentFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	require.Empty(t, idx.RecentFiles(5))

	idx.RecordAccess("main.go", false)
	idx.RecordAccess("src/app.ts", true)
	idx.RecordAccess("src/util.py", false)
	idx.RecordAccess("main.go", false)
	idx.RecordAccess("", false)
	idx.RecordAccess(".", true)

	require.Equal(t, []string{"main.go", "src/util.py", "src/app.ts"}, idx.RecentFiles(5))
	require.Equal(t, []string{"main.go", "src/util.py"}, idx.RecentFiles(2))
	require.Empty(t, idx.RecentFiles(0))

	activity, err := idx.Activity(1)
	require.NoError(t, err)
	require.Equal(t, 2, activity[0].Reads)
	require.Zero(t, activity[0].Writes)

	// Deleted files drop out of the ranking.
	require.NoError(t, os.Remove(filepath.Join(root, "src", "util.py")))
	require.Equal(t, []string{"main.go", "src/app.ts"}, idx.RecentFiles(5))
}

func TestRecentFiles_Reopen(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	cfg := DefaultConfig(root)
	cfg.DatabasePath = filepath.Join(t.TempDir(), "index.db")
	cfg.EnableWatch = false

	idx, err := Open(cfg)
	require.NoError(t, err)
	idx.RecordAccess("main.go", false)
	idx.RecordAccess("src/app.ts", false)
	require.NoError(t, idx.Close())

	idx, err = Open(cfg)
	require.NoError(t, err)
	defer idx.Close()

	// The sequence continues, so a new access still ranks first.
	idx.RecordAccess("main.go", false)
	require.Equal(t, []string{"main.go", "src/app.ts"}, idx.RecentFiles(5))
}

func TestRecordAccess_Concurrent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.RecordAccess("main.go", i%2 == 0)
		}(i)
	}
	wg.Wait()

	activity, err := idx.Activity(1)
	require.NoError(t, err)
	require.Equal(t, 10, activity[0].Reads)
	require.Equal(t, 10, activity[0].Writes)
}

func TestSearchSymbols(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	_, err := idx.SearchSymbols(context.Background(), "main", nil)
	require.ErrorIs(t, err, ErrNotIndexed)

	require.NoError(t, idx.Build(context.Background()))

	tests := []struct {
		name  string
		query string
		opts  *SearchOptions
		want  []string
	}{
		{"exact first", "main", nil, []string{"main"}},
		{"substring", "e", &SearchOptions{Types: []SymbolType{SymbolFunction}}, []string{"render", "helper", "_private"}},
		{"blank query", "  ", nil, nil},
		{"method", "get", nil, []string{"get"}},
		{"class", "App", &SearchOptions{ExportedOnly: true}, []string{"App"}},
		{"like wildcards are literal", "%", nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			results, err := idx.SearchSymbols(context.Background(), tc.query, tc.opts)
			require.NoError(t, err)
			var names []string
			for _, r := range results {
				names = append(names, r.Name)
			}
			require.Equal(t, tc.want, names)
		})
	}

	results, err := idx.SearchSymbols(context.Background(), "get", nil)
	require.NoError(t, err)
	require.Equal(t, SymbolMethod, results[0].Type)
	require.Equal(t, "Store", results[0].Parent)
	require.Equal(t, "src/util.py:2  def get(...) (Store)", results[0].Format())
}

func TestParsers(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		content string
		want    []Symbol
	}{
		{
			name:    "go",
			ext:     ".go",
			content: "package p\n\ntype T struct{}\n\nfunc (t *T) Do() error { return nil }\n\nconst Max = 3\n",
			want: []Symbol{
				{Name: "T", Type: SymbolStruct, Line: 3, Signature: "type T struct", Exported: true},
				{Name: "Do", Type: SymbolMethod, Line: 5, Signature: "func (*T) Do(...) error", Parent: "*T", Exported: true},
				{Name: "Max", Type: SymbolConst, Line: 7, Exported: true},
			},
		},
		{
			name:    "typescript",
			ext:     ".ts",
			content: "interface Props {}\nexport const handler = async (req) => {}\n",
			want: []Symbol{
				{Name: "Props", Type: SymbolInterface, Line: 1, Signature: "interface Props"},
				{Name: "handler", Type: SymbolFunction, Line: 2, Signature: "const handler = (...) =>", Exported: true},
			},
		},
		{
			name:    "python",
			ext:     ".py",
			content: "class A:\n    def m(self):\n        pass\ndef f():\n    pass\n",
			want: []Symbol{
				{Name: "A", Type: SymbolClass, Line: 1, Signature: "class A", Exported: true},
				{Name: "m", Type: SymbolMethod, Line: 2, Signature: "def m(...)", Parent: "A", Exported: true},
				{Name: "f", Type: SymbolFunction, Line: 4, Signature: "def f(...)", Exported: true},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := parserFor(tc.ext)
			require.NotNil(t, p)
			got, err := p.Parse(tc.content, "x"+tc.ext)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	require.Nil(t, parserFor(".md"))
	_, err := parserFor(".go").Parse("not go", "x.go")
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, false)

	_, err := idx.Summary(3)
	require.ErrorIs(t, err, ErrNotIndexed)

	require.NoError(t, idx.Build(context.Background()))
	idx.RecordAccess("src/app.ts", false)

	summary, err := idx.Summary(3)
	require.NoError(t, err)
	require.Contains(t, summary, "Files: 4, symbols: 8")
	require.Contains(t, summary, "src/ (2 files)")
	require.Contains(t, summary, "Recently used files:\n  src/app.ts")
}

func TestWatcher(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, sampleWorkspace)
	idx := openTestIndex(t, root, true)

	var (
		mu      sync.Mutex
		changed []string
	)
	idx.OnChange(func(rel string) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, rel)
	})

	require.NoError(t, idx.Build(context.Background()))
	require.True(t, idx.Stats().Watching)

	writeFiles(t, root, map[string]string{"src/extra.go": "package src\n\nfunc Extra() {}\n"})
	require.Eventually(t, func() bool {
		results, err := idx.SearchSymbols(context.Background(), "Extra", nil)
		return err == nil && len(results) == 1
	}, 5*time.Second, 25*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(root, "main.go")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changed {
			if c == "main.go" {
				return true
			}
		}
		return false
	}, 5*time.Second, 25*time.Millisecond)

	require.Equal(t, 4, idx.Stats().FileCount)
	results, err := idx.SearchSymbols(context.Background(), "helper", nil)
	require.NoError(t, err)
	require.Empty(t, results)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, changed, "src/extra.go")
}
