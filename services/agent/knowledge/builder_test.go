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
	"errors"
	"os"
	"path/filepath"
	"testing"

	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestBuildResolvesEdges verifies a small TypeScript tree produces
// components with symmetric, confidence-tagged edges.
func TestBuildResolvesEdges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"pages/Home.tsx":  "import { format } from '../lib/format';\nexport default function Home() {}\n",
		"lib/format.ts":   "export function format(s: string) { return s; }\n",
		"lib/unused.ts":   "export const nothing = 1;\n",
		"node_modules/x/index.js": "module.exports = {};\n",
	})

	b := NewBuilder(BuilderConfig{}, nil)
	graph, err := b.Build(context.Background(), "proj", root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if graph.Size() != 3 {
		t.Fatalf("expected 3 components (node_modules ignored), got %d", graph.Size())
	}
	if _, ok := graph.Components["node_modules/x/index.js"]; ok {
		t.Fatal("ignored directory was scanned")
	}

	home, err := graph.Component("pages/Home.tsx")
	if err != nil {
		t.Fatal(err)
	}
	if len(home.DependsOn) != 1 || home.DependsOn[0].ID != "lib/format.ts" {
		t.Fatalf("Home edges = %+v", home.DependsOn)
	}
	if home.DependsOn[0].Confidence != ConfidenceExact {
		t.Fatalf("expected exact match, got %s", home.DependsOn[0].Confidence)
	}
	if home.Category != CategoryPage {
		t.Fatalf("Home category = %s", home.Category)
	}

	format, err := graph.Component("lib/format.ts")
	if err != nil {
		t.Fatal(err)
	}
	if len(format.UsedBy) != 1 || format.UsedBy[0].ID != "pages/Home.tsx" {
		t.Fatalf("reverse edge missing: %+v", format.UsedBy)
	}
}

// TestBuildRecordsScanErrors verifies oversized files are skipped with a
// record instead of failing the build.
func TestBuildRecordsScanErrors(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ok.ts":  "export const a = 1;\n",
		"big.ts": string(make([]byte, 64)),
	})

	b := NewBuilder(BuilderConfig{MaxFileSize: 32}, nil)
	graph, err := b.Build(context.Background(), "proj", root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if graph.Size() != 1 {
		t.Fatalf("expected 1 component, got %d", graph.Size())
	}
	if len(graph.Errors) != 1 || graph.Errors[0].Path != "big.ts" {
		t.Fatalf("scan errors = %+v", graph.Errors)
	}
}

// TestBuildInvalidRoot verifies a missing root is fatal.
func TestBuildInvalidRoot(t *testing.T) {
	b := NewBuilder(BuilderConfig{}, nil)
	_, err := b.Build(context.Background(), "proj", filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrInvalidRoot) {
		t.Fatalf("expected ErrInvalidRoot, got %v", err)
	}
}

// TestBuildHonorsCancellation verifies a cancelled context aborts the scan.
func TestBuildHonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.ts": "export const a = 1;\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(BuilderConfig{}, nil)
	if _, err := b.Build(ctx, "proj", root); err == nil {
		t.Fatal("expected cancellation error")
	}
}

// TestStoreRoundTrip verifies graph persistence per project.
func TestStoreRoundTrip(t *testing.T) {
	db, err := storage.Open(storage.InMemoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	if _, err := store.Load(ctx, "proj"); !errors.Is(err, ErrGraphNotFound) {
		t.Fatalf("expected ErrGraphNotFound, got %v", err)
	}

	g := newGraph("a.ts", "b.ts")
	if err := g.AddDependency("a.ts", "b.ts", ConfidenceExact); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, g); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, "proj")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded %d components, want 2", loaded.Size())
	}
	deps, err := loaded.Dependencies("a.ts", false)
	if err != nil || len(deps) != 1 || deps[0] != "b.ts" {
		t.Fatalf("Dependencies = %v, %v", deps, err)
	}

	// A second save replaces the previous build wholesale.
	if err := store.Save(ctx, newGraph("c.ts")); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.Load(ctx, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 1 {
		t.Fatalf("replacement save kept stale components: %d", loaded.Size())
	}
}

// TestWatcherStaleFlag verifies the manual stale transitions.
func TestWatcherStaleFlag(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, nil)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer w.Close()

	if w.Stale() {
		t.Fatal("fresh watcher must not be stale")
	}
	w.MarkStale()
	if !w.Stale() {
		t.Fatal("MarkStale did not stick")
	}
	w.ClearStale()
	if w.Stale() {
		t.Fatal("ClearStale did not stick")
	}
}
