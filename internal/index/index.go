// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotIndexed    = errors.New("workspace not indexed")
	ErrIndexing      = errors.New("indexing in progress")
	ErrDatabaseError = errors.New("database error")
	ErrInvalidPath   = errors.New("invalid path")
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds index configuration.
type Config struct {
	// Root is the workspace root directory.
	Root string

	// DatabasePath is where the SQLite database lives.
	DatabasePath string

	// MaxFileSize is the largest file scanned for symbols.
	MaxFileSize int64

	// IgnorePatterns are base-name glob patterns skipped during scans.
	IgnorePatterns []string

	// EnableWatch starts an fsnotify watcher after the first full scan.
	EnableWatch bool

	// WatchDebounce is how long a path must be quiet before it is rescanned.
	WatchDebounce time.Duration
}

// DefaultConfig returns defaults for root. The database is stored under the
// workspace's .rigrun-chat directory.
func DefaultConfig(root string) *Config {
	return &Config{
		Root:         root,
		DatabasePath: filepath.Join(root, ".rigrun-chat", "index.db"),
		MaxFileSize:  2 * 1024 * 1024,
		IgnorePatterns: []string{
			".git", ".svn", ".hg", ".rigrun-chat",
			"node_modules", "__pycache__", ".venv", "venv",
			"vendor", "target", "dist", "build", "out",
			".idea", ".vscode", ".vs", ".cache",
			"*.exe", "*.dll", "*.so", "*.dylib", "*.o", "*.a",
			"*.zip", "*.tar", "*.gz", "*.jar",
			"*.jpg", "*.jpeg", "*.png", "*.gif", "*.pdf", "*.ico",
			"*.db", "*.db-wal", "*.db-shm", "*.lock",
		},
		EnableWatch:   true,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// =============================================================================
// WORKSPACE INDEX
// =============================================================================

// WorkspaceIndex is a SQLite-backed catalogue of workspace files, their
// declarations, and how recently tools or the editor touched them.
//
// It lives outside the conversation engine: the engine sees it only through
// RecentFiles, and the file tools feed it through RecordAccess.
type WorkspaceIndex struct {
	db     *sql.DB
	root   string
	config *Config

	mu          sync.RWMutex
	lastIndexed time.Time
	fileCount   int
	symbolCount int
	seq         int64

	indexingMu sync.Mutex
	indexing   bool

	watchMu  sync.Mutex
	watcher  *Watcher
	onChange []func(rel string)
}

// Open opens (or creates) the index database for config.Root.
func Open(config *Config) (*WorkspaceIndex, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory", ErrInvalidPath)
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &WorkspaceIndex{
		db:     db,
		root:   root,
		config: config,
	}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := idx.loadStats(); err != nil {
		log.Printf("INDEX_STATS_LOAD_FAILED | err=%v", err)
	}
	return idx, nil
}

func (idx *WorkspaceIndex) initSchema() error {
	if _, err := idx.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := idx.db.Exec(InitMetadata); err != nil {
		return err
	}
	_, err := idx.db.Exec("UPDATE metadata SET value = ? WHERE key = 'root_path'", idx.root)
	return err
}

// Root returns the absolute workspace root.
func (idx *WorkspaceIndex) Root() string {
	return idx.root
}

// Close stops the watcher and closes the database.
func (idx *WorkspaceIndex) Close() error {
	idx.watchMu.Lock()
	w := idx.watcher
	idx.watcher = nil
	idx.watchMu.Unlock()

	// The event loop may be inside notifyChange, so close outside watchMu.
	if w != nil {
		w.Close()
	}
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

// OnChange registers f to be called with the relative path of every file the
// watcher rescans or removes.
func (idx *WorkspaceIndex) OnChange(f func(rel string)) {
	idx.watchMu.Lock()
	defer idx.watchMu.Unlock()
	idx.onChange = append(idx.onChange, f)
}

func (idx *WorkspaceIndex) notifyChange(rel string) {
	idx.watchMu.Lock()
	fns := append(([]func(string))(nil), idx.onChange...)
	idx.watchMu.Unlock()
	for _, f := range fns {
		f(rel)
	}
}

// =============================================================================
// INDEXING
// =============================================================================

// Build performs a full scan of the workspace, replacing file and symbol
// rows. Access history is kept. If watching is enabled, the watcher starts
// after the first successful scan.
func (idx *WorkspaceIndex) Build(ctx context.Context) error {
	idx.indexingMu.Lock()
	if idx.indexing {
		idx.indexingMu.Unlock()
		return ErrIndexing
	}
	idx.indexing = true
	idx.indexingMu.Unlock()

	defer func() {
		idx.indexingMu.Lock()
		idx.indexing = false
		idx.indexingMu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM symbols"); err != nil {
		return fmt.Errorf("failed to clear symbols: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}

	var fileCount, symbolCount int
	err = filepath.WalkDir(idx.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != idx.root && idx.shouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || idx.shouldIgnore(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		n, err := idx.indexFile(tx, path, info)
		if err != nil {
			log.Printf("INDEX_FILE_SKIPPED | path=%s err=%v", path, err)
			return nil
		}
		fileCount++
		symbolCount += n
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk workspace: %w", err)
	}

	if _, err := tx.Exec("UPDATE metadata SET value = ? WHERE key = 'last_full_index'", start.Unix()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	idx.mu.Lock()
	idx.lastIndexed = start
	idx.fileCount = fileCount
	idx.symbolCount = symbolCount
	idx.mu.Unlock()

	log.Printf("INDEX_BUILD | root=%s files=%d symbols=%d dur=%s", idx.root, fileCount, symbolCount, time.Since(start).Round(time.Millisecond))

	if idx.config.EnableWatch {
		if err := idx.startWatcher(); err != nil {
			log.Printf("INDEX_WATCH_FAILED | err=%v", err)
		}
	}
	return nil
}

// indexFile inserts one file row and its symbols, returning the symbol count.
// Symbols are only extracted for files under MaxFileSize with a parser.
func (idx *WorkspaceIndex) indexFile(tx *sql.Tx, path string, info os.FileInfo) (int, error) {
	rel, err := idx.relPath(path)
	if err != nil {
		return 0, err
	}

	ext := filepath.Ext(path)
	var (
		lineCount int
		symbols   []Symbol
	)
	if info.Size() <= idx.maxFileSize() {
		content, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		lineCount = strings.Count(string(content), "\n") + 1
		if p := parserFor(ext); p != nil {
			// Unparseable sources are still catalogued, without symbols.
			symbols, _ = p.Parse(string(content), path)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO files (path, mod_time, size, language, line_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mod_time = excluded.mod_time,
			size = excluded.size,
			language = excluded.language,
			line_count = excluded.line_count,
			indexed_at = excluded.indexed_at
	`, rel, info.ModTime().Unix(), info.Size(), detectLanguage(ext), lineCount, time.Now().Unix()); err != nil {
		return 0, err
	}

	var fileID int64
	if err := tx.QueryRow("SELECT id FROM files WHERE path = ?", rel).Scan(&fileID); err != nil {
		return 0, err
	}

	if _, err := tx.Exec("DELETE FROM symbols WHERE file_id = ?", fileID); err != nil {
		return 0, err
	}
	for _, sym := range symbols {
		if _, err := tx.Exec(`
			INSERT INTO symbols (name, type, file_id, line, signature, parent, exported)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sym.Name, string(sym.Type), fileID, sym.Line, sym.Signature, sym.Parent, sym.Exported); err != nil {
			return 0, err
		}
	}
	return len(symbols), nil
}

// refreshFile rescans one absolute path, or removes it if it is gone.
func (idx *WorkspaceIndex) refreshFile(path string) error {
	rel, err := idx.relPath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return idx.removeFile(rel)
	}
	if info.IsDir() || idx.shouldIgnore(info.Name()) {
		return nil
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := idx.indexFile(tx, path, info); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	err = idx.loadStats()
	idx.notifyChange(rel)
	return err
}

// removeFile drops a file and its symbols and access history.
func (idx *WorkspaceIndex) removeFile(rel string) error {
	if _, err := idx.db.Exec("DELETE FROM files WHERE path = ?", rel); err != nil {
		return err
	}
	if _, err := idx.db.Exec("DELETE FROM access WHERE path = ?", rel); err != nil {
		return err
	}
	err := idx.loadStats()
	idx.notifyChange(rel)
	return err
}

func (idx *WorkspaceIndex) relPath(path string) (string, error) {
	rel, err := filepath.Rel(idx.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, path, idx.root)
	}
	return filepath.ToSlash(rel), nil
}

func (idx *WorkspaceIndex) shouldIgnore(name string) bool {
	for _, pattern := range idx.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func (idx *WorkspaceIndex) maxFileSize() int64 {
	if idx.config.MaxFileSize <= 0 {
		return 2 * 1024 * 1024
	}
	return idx.config.MaxFileSize
}

func (idx *WorkspaceIndex) loadStats() error {
	var lastIndexed, files, symbols int64
	var seq sql.NullInt64
	if err := idx.db.QueryRow("SELECT CAST(value AS INTEGER) FROM metadata WHERE key = 'last_full_index'").Scan(&lastIndexed); err != nil {
		return err
	}
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return err
	}
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbols); err != nil {
		return err
	}
	if err := idx.db.QueryRow("SELECT MAX(last_seq) FROM access").Scan(&seq); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if lastIndexed > 0 {
		idx.lastIndexed = time.Unix(lastIndexed, 0)
	}
	idx.fileCount = int(files)
	idx.symbolCount = int(symbols)
	if seq.Valid && seq.Int64 > idx.seq {
		idx.seq = seq.Int64
	}
	return nil
}

// =============================================================================
// ACCESS TRACKING
// =============================================================================

// RecordAccess notes a successful read or write of a workspace-relative
// path. It satisfies tools.AccessRecorder; failures are logged, not returned.
func (idx *WorkspaceIndex) RecordAccess(rel string, write bool) {
	rel = filepath.ToSlash(strings.TrimSpace(rel))
	if rel == "" || rel == "." {
		return
	}

	idx.mu.Lock()
	idx.seq++
	seq := idx.seq
	idx.mu.Unlock()

	reads, writes := 1, 0
	if write {
		reads, writes = 0, 1
	}
	_, err := idx.db.Exec(`
		INSERT INTO access (path, reads, writes, last_seq, last_access)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			reads = reads + excluded.reads,
			writes = writes + excluded.writes,
			last_seq = excluded.last_seq,
			last_access = excluded.last_access
	`, rel, reads, writes, seq, time.Now().Unix())
	if err != nil {
		log.Printf("INDEX_ACCESS_FAILED | path=%s err=%v", rel, err)
	}
}

// FileActivity is one row of access history.
type FileActivity struct {
	Path       string
	Reads      int
	Writes     int
	LastAccess time.Time
}

// Activity returns up to n entries of access history, most recent first.
// Files that no longer exist are skipped.
func (idx *WorkspaceIndex) Activity(n int) ([]FileActivity, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := idx.db.Query(`
		SELECT path, reads, writes, last_access
		FROM access
		ORDER BY last_seq DESC, (reads + writes) DESC, path
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []FileActivity
	for rows.Next() && len(out) < n {
		var (
			a    FileActivity
			last int64
		)
		if err := rows.Scan(&a.Path, &a.Reads, &a.Writes, &last); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if _, err := os.Stat(filepath.Join(idx.root, filepath.FromSlash(a.Path))); err != nil {
			continue
		}
		a.LastAccess = time.Unix(last, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentFiles returns up to n workspace-relative paths, most recently
// accessed first, ties broken by access count.
func (idx *WorkspaceIndex) RecentFiles(n int) []string {
	activity, err := idx.Activity(n)
	if err != nil {
		log.Printf("INDEX_RECENT_FAILED | err=%v", err)
		return nil
	}
	out := make([]string, len(activity))
	for i, a := range activity {
		out[i] = a.Path
	}
	return out
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats describes the index.
type Stats struct {
	FileCount    int
	SymbolCount  int
	TrackedFiles int
	LastIndexed  time.Time
	IsIndexing   bool
	Watching     bool
	DatabaseSize int64
}

// String renders the stats on one line.
func (s Stats) String() string {
	last := "never"
	if !s.LastIndexed.IsZero() {
		last = humanize.Time(s.LastIndexed)
	}
	return fmt.Sprintf("%s files, %s symbols, %d tracked, indexed %s, db %s",
		humanize.Comma(int64(s.FileCount)), humanize.Comma(int64(s.SymbolCount)),
		s.TrackedFiles, last, humanize.IBytes(uint64(s.DatabaseSize)))
}

// Stats returns current index statistics.
func (idx *WorkspaceIndex) Stats() Stats {
	idx.mu.RLock()
	s := Stats{
		FileCount:   idx.fileCount,
		SymbolCount: idx.symbolCount,
		LastIndexed: idx.lastIndexed,
	}
	idx.mu.RUnlock()

	idx.indexingMu.Lock()
	s.IsIndexing = idx.indexing
	idx.indexingMu.Unlock()

	idx.watchMu.Lock()
	s.Watching = idx.watcher != nil
	idx.watchMu.Unlock()

	var tracked int64
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM access").Scan(&tracked); err == nil {
		s.TrackedFiles = int(tracked)
	}
	if info, err := os.Stat(idx.config.DatabasePath); err == nil {
		s.DatabaseSize = info.Size()
	}
	return s
}

// IsIndexed reports whether a full scan has completed.
func (idx *WorkspaceIndex) IsIndexed() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return !idx.lastIndexed.IsZero()
}

// LanguageStats counts indexed files per language.
func (idx *WorkspaceIndex) LanguageStats() (map[string]int, error) {
	rows, err := idx.db.Query("SELECT language, COUNT(*) FROM files GROUP BY language")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			lang  sql.NullString
			count int
		)
		if err := rows.Scan(&lang, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out[lang.String] += count
	}
	return out, rows.Err()
}

// Summary renders a short description of the workspace for the model:
// languages, top-level directories, and recent files.
func (idx *WorkspaceIndex) Summary(recent int) (string, error) {
	if !idx.IsIndexed() {
		return "", ErrNotIndexed
	}

	var sb strings.Builder
	stats := idx.Stats()
	fmt.Fprintf(&sb, "Workspace: %s\n", filepath.Base(idx.root))
	fmt.Fprintf(&sb, "Files: %d, symbols: %d\n", stats.FileCount, stats.SymbolCount)

	langs, err := idx.LanguageStats()
	if err != nil {
		return "", err
	}
	if len(langs) > 0 {
		names := make([]string, 0, len(langs))
		for lang := range langs {
			names = append(names, lang)
		}
		sort.Slice(names, func(i, j int) bool {
			if langs[names[i]] != langs[names[j]] {
				return langs[names[i]] > langs[names[j]]
			}
			return names[i] < names[j]
		})
		sb.WriteString("Languages:")
		for _, lang := range names {
			fmt.Fprintf(&sb, " %s (%d)", lang, langs[lang])
		}
		sb.WriteString("\n")
	}

	dirs, err := idx.topLevelDirs()
	if err != nil {
		return "", err
	}
	if len(dirs) > 0 {
		sb.WriteString("Top-level directories:\n")
		for _, d := range dirs {
			fmt.Fprintf(&sb, "  %s/ (%d files)\n", d.name, d.files)
		}
	}

	if files := idx.RecentFiles(recent); len(files) > 0 {
		sb.WriteString("Recently used files:\n")
		for _, f := range files {
			sb.WriteString("  " + f + "\n")
		}
	}
	return sb.String(), nil
}

type dirCount struct {
	name  string
	files int
}

func (idx *WorkspaceIndex) topLevelDirs() ([]dirCount, error) {
	rows, err := idx.db.Query("SELECT path FROM files")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if i := strings.IndexByte(p, '/'); i > 0 {
			counts[p[:i]]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]dirCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, dirCount{name, n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
