// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shadow

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Workspace holds the most recent staged content for each file, keyed by
// project-relative path, until committed or rolled back.
type Workspace struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	staged map[string]string
}

// NewWorkspace creates a workspace rooted at the project directory.
func NewWorkspace(root string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		root:   root,
		logger: logger,
		staged: make(map[string]string),
	}
}

// resolve validates a project-relative path and returns its absolute
// location under the root. Absolute paths and traversal are rejected.
func (w *Workspace) resolve(relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%q: %w", relPath, ErrPathEscapes)
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", relPath, ErrPathEscapes)
	}
	return filepath.Join(w.root, clean), nil
}

// Load returns the current view of a file: staged content if present,
// else the real file's content, else empty string for files that do not
// exist yet.
func (w *Workspace) Load(relPath string) (string, error) {
	w.mu.Lock()
	if content, ok := w.staged[relPath]; ok {
		w.mu.Unlock()
		return content, nil
	}
	w.mu.Unlock()

	abs, err := w.resolve(relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	return string(data), nil
}

// Stage overwrites the staged value for a path. No I/O to the real tree.
func (w *Workspace) Stage(relPath, content string) error {
	if _, err := w.resolve(relPath); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged[relPath] = content
	return nil
}

// Staged reports whether the path has staged content.
func (w *Workspace) Staged(relPath string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.staged[relPath]
	return ok
}

// StagedPaths returns the staged paths in sorted order.
func (w *Workspace) StagedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.staged))
	for p := range w.staged {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Commit writes the staged content for a path to the real filesystem,
// creating parent directories as needed.
//
// Description:
//
//	The only operation in the package that touches the real tree. On
//	I/O failure the staged value is left intact so the caller may retry;
//	on success it is cleared so the next Load reads the committed file.
//
// Outputs:
//
//	error - ErrNotStaged, ErrPathEscapes, or the write error.
func (w *Workspace) Commit(relPath string) error {
	w.mu.Lock()
	content, ok := w.staged[relPath]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", relPath, ErrNotStaged)
	}

	abs, err := w.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		w.logger.Error("commit failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return fmt.Errorf("create directories for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		w.logger.Error("commit failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return fmt.Errorf("write %s: %w", relPath, err)
	}

	w.mu.Lock()
	delete(w.staged, relPath)
	w.mu.Unlock()

	w.logger.Debug("committed", slog.String("path", relPath), slog.Int("bytes", len(content)))
	return nil
}

// Rollback discards the staged value for a path, so the next Load falls
// through to the real file again.
func (w *Workspace) Rollback(relPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.staged[relPath]; !ok {
		return fmt.Errorf("%s: %w", relPath, ErrNotStaged)
	}
	delete(w.staged, relPath)
	return nil
}

// CommitAll commits every staged path in sorted order.
//
// Outputs:
//
//	[]string - Paths committed before any failure.
//	error - The first commit error; remaining paths stay staged.
func (w *Workspace) CommitAll() ([]string, error) {
	var committed []string
	for _, p := range w.StagedPaths() {
		if err := w.Commit(p); err != nil {
			return committed, err
		}
		committed = append(committed, p)
	}
	return committed, nil
}

// RollbackAll discards all staged content.
func (w *Workspace) RollbackAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged = make(map[string]string)
}
