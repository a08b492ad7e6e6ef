// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs is the version-control boundary of the execution loop.
//
// Every successful task becomes exactly one commit with a structured
// message (task id + summary). When a task exhausts self-correction, the
// working tree is hard-reset to the last known-good commit so the next
// task starts from a consistent state.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrNotRepository indicates the project root is not a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// CommandError carries the output of a failed git command.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Output))
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Committer is what the execution loop needs from version control.
type Committer interface {
	// Commit stages the given paths and commits them as one change,
	// returning the commit SHA.
	Commit(ctx context.Context, paths []string, message string) (string, error)

	// HardReset discards all uncommitted tree state, returning to the
	// last committed state.
	HardReset(ctx context.Context) error

	// Branch returns the current branch name.
	Branch(ctx context.Context) (string, error)
}

// Git shells out to the git binary in a fixed work tree.
type Git struct {
	dir    string
	logger *slog.Logger
}

// NewGit creates a committer for the repository at dir.
//
// Outputs:
//
//	*Git - Ready committer.
//	error - ErrNotRepository when dir is not inside a git work tree.
func NewGit(ctx context.Context, dir string, logger *slog.Logger) (*Git, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Git{dir: dir, logger: logger}

	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	return g, nil
}

// Commit implements Committer.
//
// Description:
//
//	git add the exact paths, commit, and resolve HEAD. An empty
//	diff (the proposer staged content identical to the tree) commits
//	with --allow-empty so the task still gets its durable record.
func (g *Git) Commit(ctx context.Context, paths []string, message string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("no paths to commit")
	}

	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := g.run(ctx, addArgs...); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}

	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha = strings.TrimSpace(sha)

	g.logger.Info("committed change",
		slog.String("sha", sha),
		slog.Int("paths", len(paths)))
	return sha, nil
}

// HardReset implements Committer: reset --hard plus clean -fd, so both
// modified and newly created uncommitted files are discarded.
func (g *Git) HardReset(ctx context.Context) error {
	if _, err := g.run(ctx, "reset", "--hard"); err != nil {
		return err
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return err
	}
	g.logger.Warn("hard reset to last committed state")
	return nil
}

// Branch implements Committer.
func (g *Git) Branch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Output: out.String(), Err: err}
	}
	return out.String(), nil
}

// CommitMessage formats the structured one-commit-per-task message.
func CommitMessage(taskID, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = "automated change"
	}
	return fmt.Sprintf("task %s: %s", taskID, summary)
}
