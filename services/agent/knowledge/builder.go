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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// BuilderConfig configures a graph build.
type BuilderConfig struct {
	// IgnoreDirs are directory names skipped during the walk: build
	// output, dependency caches, version-control metadata.
	IgnoreDirs []string

	// MaxFileSize caps how large a file is still scanned, in bytes.
	// Larger files are skipped with a ScanError. Default: 1 MiB.
	MaxFileSize int64

	// Concurrency bounds the parallel file scans. Default: 8.
	Concurrency int

	// Rules are the language rules to apply. When nil, DefaultRules of
	// the scan root are used.
	Rules []LanguageRule
}

// DefaultBuilderConfig returns the standard ignore set and limits.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		IgnoreDirs: []string{
			".git", "node_modules", "vendor", "dist", "build", "out",
			".next", "__pycache__", ".venv", "venv", "target", ".idea",
		},
		MaxFileSize: 1 << 20,
		Concurrency: 8,
	}
}

// Builder produces dependency graphs from source trees.
type Builder struct {
	cfg    BuilderConfig
	logger *slog.Logger
}

// NewBuilder creates a builder. Zero-value config fields get defaults.
func NewBuilder(cfg BuilderConfig, logger *slog.Logger) *Builder {
	def := DefaultBuilderConfig()
	if cfg.IgnoreDirs == nil {
		cfg.IgnoreDirs = def.IgnoreDirs
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build walks root and produces the component graph for projectID.
//
// Description:
//
//	Two passes. The first walks the tree (ignore dirs excluded), runs
//	the matching language rule on each file with bounded parallelism,
//	and produces one Component per scannable file. The second resolves
//	each import string against known component base names and records
//	bidirectional edges: an exact base-name match is tagged
//	ConfidenceExact, a substring match ConfidenceFuzzy.
//
//	Unreadable or oversized files become ScanError records on the graph
//	and never fail the build. Only an invalid root or a cancelled
//	context is fatal.
//
// Outputs:
//
//	*Graph - Complete graph, read-only from here on.
//	error - ErrInvalidRoot, or context/walk errors.
func (b *Builder) Build(ctx context.Context, projectID, root string) (*Graph, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrInvalidRoot)
	}

	rules := b.cfg.Rules
	if rules == nil {
		rules = DefaultRules(root)
	}
	byExt, err := ruleIndex(rules)
	if err != nil {
		return nil, err
	}

	ignore := make(map[string]bool, len(b.cfg.IgnoreDirs))
	for _, dir := range b.cfg.IgnoreDirs {
		ignore[dir] = true
	}

	var paths []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directory: skip its subtree, keep going.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if ignore[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := byExt[filepath.Ext(p)]; ok {
			paths = append(paths, p)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	graph := &Graph{
		ProjectID:  projectID,
		Root:       root,
		Components: make(map[string]*Component, len(paths)),
		BuiltAt:    time.Now().UnixMilli(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(root, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)

			comp, scanErr := b.scanFile(p, rel, byExt)
			mu.Lock()
			defer mu.Unlock()
			if scanErr != nil {
				graph.Errors = append(graph.Errors, *scanErr)
				return nil
			}
			graph.Components[comp.ID] = comp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}

	sort.Slice(graph.Errors, func(i, j int) bool { return graph.Errors[i].Path < graph.Errors[j].Path })

	b.resolve(graph)

	b.logger.Info("knowledge graph built",
		slog.String("project_id", projectID),
		slog.Int("components", len(graph.Components)),
		slog.Int("skipped", len(graph.Errors)))
	return graph, nil
}

func (b *Builder) scanFile(absPath, relPath string, byExt map[string]LanguageRule) (*Component, *ScanError) {
	rule := byExt[filepath.Ext(absPath)]

	info, err := os.Stat(absPath)
	if err != nil {
		b.logger.Debug("skipping unreadable file", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil, &ScanError{Path: relPath, Reason: err.Error()}
	}
	if info.Size() > b.cfg.MaxFileSize {
		return nil, &ScanError{Path: relPath, Reason: fmt.Sprintf("file too large (%d bytes)", info.Size())}
	}

	src, err := os.ReadFile(absPath)
	if err != nil {
		b.logger.Debug("skipping unreadable file", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil, &ScanError{Path: relPath, Reason: err.Error()}
	}

	return &Component{
		ID:       relPath,
		Language: rule.Name(),
		Category: Classify(relPath),
		Imports:  rule.Imports(src),
		Exports:  rule.Exports(src),
	}, nil
}

// resolve matches import strings against component base names and writes
// edges. Deliberately heuristic: false positives are tolerated downstream.
func (b *Builder) resolve(graph *Graph) {
	byBase := make(map[string][]string)
	ids := make([]string, 0, len(graph.Components))
	for id, comp := range graph.Components {
		byBase[comp.BaseName()] = append(byBase[comp.BaseName()], id)
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		comp := graph.Components[id]
		for _, imp := range comp.Imports {
			impBase := importBase(imp)
			if impBase == "" {
				continue
			}

			if targets, ok := byBase[impBase]; ok {
				for _, target := range targets {
					_ = graph.AddDependency(id, target, ConfidenceExact)
				}
				continue
			}

			for base, targets := range byBase {
				if len(base) < 3 || !strings.Contains(impBase, base) {
					continue
				}
				for _, target := range targets {
					_ = graph.AddDependency(id, target, ConfidenceFuzzy)
				}
			}
		}
	}
}

// importBase extracts the final path segment of an import string,
// stripping any extension. "./lib/format.ts" and "app/lib/format" both
// yield "format".
func importBase(imp string) string {
	imp = strings.TrimSuffix(imp, "/")
	if i := strings.LastIndex(imp, "/"); i >= 0 {
		imp = imp[i+1:]
	}
	if i := strings.LastIndex(imp, "."); i > 0 {
		imp = imp[:i]
	}
	return imp
}
