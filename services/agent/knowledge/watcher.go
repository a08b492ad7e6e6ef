// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher marks a built graph stale when the source tree changes outside
// the agent's own commits (an external editor, a git checkout from
// another terminal). The executor checks Stale between tasks and rebuilds
// before handing context to the proposer.
//
// # Thread Safety
//
// Safe for concurrent use. Run should be called once, in a goroutine.
type Watcher struct {
	root    string
	ignore  map[string]bool
	watcher *fsnotify.Watcher
	stale   atomic.Bool
	logger  *slog.Logger
}

// NewWatcher creates a watcher over root, skipping the given directory
// names. Call Run to start and Close when done.
func NewWatcher(root string, ignoreDirs []string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	ignore := make(map[string]bool, len(ignoreDirs))
	for _, dir := range ignoreDirs {
		ignore[dir] = true
	}

	w := &Watcher{
		root:    root,
		ignore:  ignore,
		watcher: fsw,
		logger:  logger,
	}

	// Watch every non-ignored directory; fsnotify is not recursive.
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.ignore[d.Name()] {
			return filepath.SkipDir
		}
		if aerr := fsw.Add(p); aerr != nil {
			logger.Debug("watch add failed", slog.String("path", p), slog.String("error", aerr.Error()))
		}
		return nil
	})
	if walkErr != nil {
		fsw.Close()
		return nil, walkErr
	}
	return w, nil
}

// Run processes filesystem events until ctx is cancelled. Any event under
// a watched directory flips the stale flag; newly created directories are
// added to the watch set.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignore[filepath.Base(event.Name)] {
				continue
			}
			w.stale.Store(true)
			if event.Op.Has(fsnotify.Create) {
				// Best effort; a file Add is a cheap no-op error.
				_ = w.watcher.Add(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// Stale reports whether the tree changed since the last ClearStale.
func (w *Watcher) Stale() bool {
	return w.stale.Load()
}

// ClearStale resets the flag, typically right after a rebuild.
func (w *Watcher) ClearStale() {
	w.stale.Store(false)
}

// MarkStale forces a rebuild on the next check. The executor calls this
// after its own commits so the graph reflects files it just wrote.
func (w *Watcher) MarkStale() {
	w.stale.Store(true)
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
