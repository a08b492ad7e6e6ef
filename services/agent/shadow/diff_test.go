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

// TestApplyUnifiedModify verifies a simple replacement hunk against a
// real file, staged but not committed.
func TestApplyUnifiedModify(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 one
-two
+TWO
 three
`
	if err := w.ApplyUnified("f.txt", patch); err != nil {
		t.Fatalf("ApplyUnified: %v", err)
	}

	got, err := w.Load("f.txt")
	if err != nil || got != "one\nTWO\nthree\n" {
		t.Fatalf("Load = %q, %v", got, err)
	}
	// The real file is untouched until Commit.
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "one\ntwo\nthree\n" {
		t.Fatalf("real file changed: %q", data)
	}
}

// TestApplyUnifiedInsertion verifies a pure-insertion hunk (zero original
// lines) lands after the stated line.
func TestApplyUnifiedInsertion(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("one\ntwo\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,0 +2,1 @@
+inserted
`
	if err := w.ApplyUnified("f.txt", patch); err != nil {
		t.Fatalf("ApplyUnified: %v", err)
	}
	got, err := w.Load("f.txt")
	if err != nil || got != "one\ninserted\ntwo\n" {
		t.Fatalf("Load = %q, %v", got, err)
	}
}

// TestApplyUnifiedDeletion verifies deleted lines vanish.
func TestApplyUnifiedDeletion(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,2 @@
 one
-two
 three
`
	if err := w.ApplyUnified("f.txt", patch); err != nil {
		t.Fatalf("ApplyUnified: %v", err)
	}
	got, _ := w.Load("f.txt")
	if got != "one\nthree\n" {
		t.Fatalf("Load = %q", got)
	}
}

// TestApplyUnifiedMismatch verifies stale context is rejected with the
// sentinel so the executor can feed it back as a correction.
func TestApplyUnifiedMismatch(t *testing.T) {
	w, root := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("completely\ndifferent\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,2 @@
 one
-two
+TWO
`
	err := w.ApplyUnified("f.txt", patch)
	if !errors.Is(err, ErrPatchMismatch) {
		t.Fatalf("expected ErrPatchMismatch, got %v", err)
	}
	if w.Staged("f.txt") {
		t.Fatal("failed patch must not stage anything")
	}
}

// TestApplyUnifiedComposesOverStaged verifies a second patch applies to
// the staged view from the previous attempt, not the file on disk.
func TestApplyUnifiedComposesOverStaged(t *testing.T) {
	w, _ := newTestWorkspace(t)
	if err := w.Stage("f.txt", "alpha\nbeta\n"); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,2 @@
 alpha
-beta
+gamma
`
	if err := w.ApplyUnified("f.txt", patch); err != nil {
		t.Fatalf("ApplyUnified: %v", err)
	}
	got, _ := w.Load("f.txt")
	if got != "alpha\ngamma\n" {
		t.Fatalf("Load = %q", got)
	}
}

// TestApplyUnifiedMalformed verifies unparsable patches fail cleanly.
func TestApplyUnifiedMalformed(t *testing.T) {
	w, _ := newTestWorkspace(t)
	if err := w.ApplyUnified("f.txt", "this is not a diff"); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestApplyHunksPreservesMissingTrailingNewline verifies files without a
// final newline stay that way.
func TestApplyHunksPreservesMissingTrailingNewline(t *testing.T) {
	w, _ := newTestWorkspace(t)
	if err := w.Stage("f.txt", "one\ntwo"); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,2 @@
-one
+ONE
 two
`
	if err := w.ApplyUnified("f.txt", patch); err != nil {
		t.Fatalf("ApplyUnified: %v", err)
	}
	got, _ := w.Load("f.txt")
	if got != "ONE\ntwo" {
		t.Fatalf("Load = %q", got)
	}
}
