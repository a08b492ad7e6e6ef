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
	"os"
	"path/filepath"
	"testing"
)

func newTestWorkspace(t *testing.T) (*Workspace, string) {
	t.Helper()
	root := t.TempDir()
	return NewWorkspace(root, nil), root
}

func readReal(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// TestStageDoesNotTouchTree verifies staging is memory-only.
func TestStageDoesNotTouchTree(t *testing.T) {
	w, root := newTestWorkspace(t)

	if err := w.Stage("pkg/a.go", "package a\n"); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "pkg", "a.go")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("staging wrote to the real tree")
	}

	got, err := w.Load("pkg/a.go")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "package a\n" {
		t.Fatalf("Load = %q", got)
	}
}

// TestLoadFallsThrough verifies the staged-then-real-then-empty order.
func TestLoadFallsThrough(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "real.txt"), []byte("on disk\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := w.Load("real.txt")
	if err != nil || got != "on disk\n" {
		t.Fatalf("Load real file = %q, %v", got, err)
	}

	if err := w.Stage("real.txt", "staged\n"); err != nil {
		t.Fatal(err)
	}
	got, err = w.Load("real.txt")
	if err != nil || got != "staged\n" {
		t.Fatalf("Load staged = %q, %v", got, err)
	}

	got, err = w.Load("never-written.txt")
	if err != nil || got != "" {
		t.Fatalf("Load missing = %q, %v", got, err)
	}
}

// TestCommitWritesAndClears verifies Commit is the only real-tree writer
// and clears the staged entry on success.
func TestCommitWritesAndClears(t *testing.T) {
	w, root := newTestWorkspace(t)

	if err := w.Stage("deep/dir/file.txt", "content\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit("deep/dir/file.txt"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := readReal(t, root, "deep/dir/file.txt"); got != "content\n" {
		t.Fatalf("committed content = %q", got)
	}
	if w.Staged("deep/dir/file.txt") {
		t.Fatal("staged entry not cleared after commit")
	}
	if err := w.Commit("deep/dir/file.txt"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("recommit should be ErrNotStaged, got %v", err)
	}
}

// TestRollback verifies a rollback restores the prior view.
func TestRollback(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("original\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := w.Stage("f.txt", "replacement\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Rollback("f.txt"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err := w.Load("f.txt")
	if err != nil || got != "original\n" {
		t.Fatalf("post-rollback Load = %q, %v", got, err)
	}
	if err := w.Rollback("f.txt"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("double rollback should be ErrNotStaged, got %v", err)
	}
}

// TestPathEscapes verifies traversal and absolute paths are rejected by
// every entry point.
func TestPathEscapes(t *testing.T) {
	w, _ := newTestWorkspace(t)

	bad := []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd", ""}
	for _, p := range bad {
		if err := w.Stage(p, "x"); !errors.Is(err, ErrPathEscapes) {
			t.Errorf("Stage(%q) = %v, want ErrPathEscapes", p, err)
		}
		if _, err := w.Load(p); !errors.Is(err, ErrPathEscapes) {
			t.Errorf("Load(%q) = %v, want ErrPathEscapes", p, err)
		}
	}

	// Interior dot segments that stay inside the root are fine.
	if err := w.Stage("a/../b.txt", "x"); err != nil {
		t.Errorf("Stage(a/../b.txt) = %v", err)
	}
}

// TestCommitAllOrderAndPartialFailure verifies sorted commit order and
// that paths after a failure stay staged.
func TestCommitAllOrderAndPartialFailure(t *testing.T) {
	w, root := newTestWorkspace(t)

	for p, c := range map[string]string{"b.txt": "b\n", "a.txt": "a\n", "c.txt": "c\n"} {
		if err := w.Stage(p, c); err != nil {
			t.Fatal(err)
		}
	}

	committed, err := w.CommitAll()
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(committed) != len(want) {
		t.Fatalf("committed %v", committed)
	}
	for i := range want {
		if committed[i] != want[i] {
			t.Fatalf("committed %v, want %v", committed, want)
		}
	}
	for _, p := range want {
		if readReal(t, root, p) == "" {
			t.Fatalf("%s not written", p)
		}
	}

	// Make one target unwritable by occupying its parent path with a file.
	if err := os.WriteFile(filepath.Join(root, "blocked"), []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := w.Stage("blocked/child.txt", "x\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Stage("z.txt", "z\n"); err != nil {
		t.Fatal(err)
	}

	_, err = w.CommitAll()
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if !w.Staged("blocked/child.txt") {
		t.Fatal("failed path must stay staged for retry")
	}

	w.RollbackAll()
	if len(w.StagedPaths()) != 0 {
		t.Fatal("RollbackAll left staged entries")
	}
}
