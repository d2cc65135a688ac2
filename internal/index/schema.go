// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

// SchemaVersion tracks the database schema version.
const SchemaVersion = 2

// Schema creates the workspace index tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Files seen by the last scan or the watcher.
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,  -- workspace-relative, slash separated
    mod_time INTEGER NOT NULL,  -- Unix timestamp
    size INTEGER NOT NULL,
    language TEXT,
    line_count INTEGER,
    indexed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);

-- Declarations extracted from source files.
CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    line INTEGER NOT NULL,
    signature TEXT,
    parent TEXT,
    exported INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_file_id ON symbols(file_id);

-- Tool and editor activity, used to rank recent files.
CREATE TABLE IF NOT EXISTS access (
    path TEXT PRIMARY KEY,
    reads INTEGER NOT NULL DEFAULT 0,
    writes INTEGER NOT NULL DEFAULT 0,
    last_seq INTEGER NOT NULL,
    last_access INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_access_seq ON access(last_seq);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '2');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
INSERT OR IGNORE INTO metadata (key, value) VALUES ('last_full_index', '0');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('root_path', '');
`

// =============================================================================
// SYMBOL TYPES
// =============================================================================

// SymbolType is the kind of a declaration.
type SymbolType string

const (
	SymbolFunction  SymbolType = "Function"
	SymbolMethod    SymbolType = "Method"
	SymbolClass     SymbolType = "Class"
	SymbolStruct    SymbolType = "Struct"
	SymbolInterface SymbolType = "Interface"
	SymbolType_     SymbolType = "Type"
	SymbolConst     SymbolType = "Const"
	SymbolVariable  SymbolType = "Variable"
)

func (s SymbolType) String() string {
	return string(s)
}
