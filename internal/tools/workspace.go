// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultIgnore lists directory names the file tools never descend into.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".idea",
	".vscode",
	"target",
	"dist",
	"build",
	".cache",
	"out",
}

// SensitivePatterns are base-name patterns the file tools refuse to touch.
var SensitivePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"id_rsa",
	"id_ed25519",
	"id_ecdsa",
	"id_dsa",
	"authorized_keys",
	"known_hosts",
	".git-credentials",
	".netrc",
	".npmrc",
	".pypirc",
	"credentials*",
	"secrets*",
}

// sensitiveDirs are path segments whose contents are always refused.
var sensitiveDirs = []string{".ssh", ".aws", ".gnupg", ".kube"}

// ErrOutsideWorkspace is returned when a path resolves outside the root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// SecurityError describes a refused path.
type SecurityError struct {
	Path    string
	Message string
	Err     error
}

func (e *SecurityError) Error() string {
	return e.Message + ": " + e.Path
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// AccessRecorder receives successful file reads and writes so the workspace
// index can rank recently used files.
type AccessRecorder interface {
	RecordAccess(relPath string, write bool)
}

// Workspace is the directory every built-in file tool is confined to.
type Workspace struct {
	// Root is the absolute, symlink-resolved workspace directory.
	Root string

	// Ignore holds directory names skipped by glob and grep.
	Ignore []string

	// MaxFileSize bounds read and grep (default 5MB).
	MaxFileSize int64

	// Recorder is optional.
	Recorder AccessRecorder
}

// NewWorkspace resolves root and returns a Workspace with default limits.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{
		Root:        abs,
		Ignore:      append([]string(nil), DefaultIgnore...),
		MaxFileSize: 5 * 1024 * 1024,
	}, nil
}

// Resolve maps a tool-supplied path (absolute or relative to the root) to an
// absolute path inside the workspace and its slash-separated relative form.
// Paths are NFC-normalized first so visually identical names compare equal.
func (w *Workspace) Resolve(p string) (abs, rel string, err error) {
	p = norm.NFC.String(strings.TrimSpace(p))
	if p == "" || p == "." {
		return w.Root, ".", nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	abs = filepath.Clean(p)

	// Resolve symlinks on the existing part of the path so a link cannot
	// point the tools outside the root.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}

	r, err := filepath.Rel(w.Root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", &SecurityError{Path: p, Message: "access denied", Err: ErrOutsideWorkspace}
	}
	return abs, filepath.ToSlash(r), nil
}

// IsSensitive reports whether a workspace-relative path matches a protected
// credential or key pattern.
func (w *Workspace) IsSensitive(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(rel, "/") {
		for _, d := range sensitiveDirs {
			if seg == d {
				return true
			}
		}
	}
	base := strings.ToLower(filepath.Base(rel))
	for _, pattern := range SensitivePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// ShouldIgnoreDir reports whether a directory name is skipped when walking.
func (w *Workspace) ShouldIgnoreDir(name string) bool {
	for _, ignore := range w.Ignore {
		if name == ignore {
			return true
		}
	}
	return false
}

func (w *Workspace) maxFileSize() int64 {
	if w.MaxFileSize <= 0 {
		return 5 * 1024 * 1024
	}
	return w.MaxFileSize
}

func (w *Workspace) record(rel string, write bool) {
	if w.Recorder != nil && rel != "" && rel != "." {
		w.Recorder.RecordAccess(rel, write)
	}
}
