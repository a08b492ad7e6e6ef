// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) (string, *Git) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	ctx := context.Background()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"commit", "--allow-empty", "-m", "init"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}

	g, err := NewGit(ctx, dir, nil)
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	return dir, g
}

// TestNewGitRejectsNonRepo verifies the repository check.
func TestNewGitRejectsNonRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewGit(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, ErrNotRepository) {
		t.Fatalf("expected ErrNotRepository, got %v", err)
	}
}

// TestCommitAndBranch verifies one task's files become one commit.
func TestCommitAndBranch(t *testing.T) {
	dir, g := newTestRepo(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sha, err := g.Commit(ctx, []string{"a.txt"}, "task t1: add a")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(sha) != 40 {
		t.Fatalf("sha = %q", sha)
	}

	branch, err := g.Branch(ctx)
	if err != nil || branch == "" {
		t.Fatalf("Branch = %q, %v", branch, err)
	}

	if _, err := g.Commit(ctx, nil, "empty"); err == nil {
		t.Fatal("commit with no paths must fail")
	}
}

// TestHardResetDiscardsEverything verifies both modified and untracked
// files are discarded.
func TestHardResetDiscardsEverything(t *testing.T) {
	dir, g := newTestRepo(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Commit(ctx, []string{"tracked.txt"}, "task t1: add tracked"); err != nil {
		t.Fatal(err)
	}

	// Dirty the tree: modify a tracked file and add an untracked one.
	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("junk\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := g.HardReset(ctx); err != nil {
		t.Fatalf("HardReset: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tracked.txt"))
	if err != nil || string(data) != "v1\n" {
		t.Fatalf("tracked.txt = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "untracked.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("untracked file survived hard reset")
	}
}

// TestCommitMessage verifies the structured message format.
func TestCommitMessage(t *testing.T) {
	if got := CommitMessage("t1", "rename helper"); got != "task t1: rename helper" {
		t.Fatalf("CommitMessage = %q", got)
	}
	if got := CommitMessage("t1", "  "); got != "task t1: automated change" {
		t.Fatalf("CommitMessage fallback = %q", got)
	}
}
