// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task has been created but not started.
	StatusPending Status = "pending"

	// StatusRunning means the execution loop is actively working the task.
	StatusRunning Status = "running"

	// StatusRetrying means an attempt failed but the retry bound has not
	// been exhausted; the task is eligible for NextReady again.
	StatusRetrying Status = "retrying"

	// StatusCompleted means the task finished and its change was committed.
	StatusCompleted Status = "completed"

	// StatusFailed means the retry bound was exhausted. Terminal.
	StatusFailed Status = "failed"

	// StatusSkipped means the task was explicitly abandoned before it
	// ever ran, typically because a dependency failed. Terminal.
	StatusSkipped Status = "skipped"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetrying,
		StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Priority orders ready tasks. Higher weight is scheduled first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Weight returns the scheduling weight of the priority.
// Unknown priorities sort last.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ResultKind tags the shape of a task result payload.
type ResultKind string

const (
	// ResultChange is a committed source-tree change.
	ResultChange ResultKind = "change"

	// ResultOpaque is a forward-compatibility fallback for result shapes
	// this version does not model.
	ResultOpaque ResultKind = "opaque"
)

// ChangeResult records a committed source-tree change.
type ChangeResult struct {
	// CommitSHA is the version-control reference for the change.
	CommitSHA string `json:"commit_sha,omitempty"`

	// Branch is the branch the commit landed on.
	Branch string `json:"branch,omitempty"`

	// Paths are the project-relative files touched by the change.
	Paths []string `json:"paths,omitempty"`

	// Attempts is the number of proposal attempts, including the
	// successful one.
	Attempts int `json:"attempts"`

	// Summary is a short human-readable description of what changed.
	Summary string `json:"summary,omitempty"`
}

// Result is a tagged union of known result shapes. Exactly one of the
// payload fields matching Kind is populated.
type Result struct {
	Kind   ResultKind      `json:"kind"`
	Change *ChangeResult   `json:"change,omitempty"`
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

// NewChangeResult builds a change-kind result.
func NewChangeResult(c ChangeResult) *Result {
	return &Result{Kind: ResultChange, Change: &c}
}

// Task is one schedulable unit of work.
//
// Timestamps are milliseconds since the Unix epoch; zero means "not yet".
// Seq is a per-project monotonic counter used to break priority ties by
// creation order.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Priority    Priority `json:"priority"`
	Status      Status   `json:"status"`

	// Progress is a percentage in [0,100]. Set to 100 on completion.
	Progress int `json:"progress"`

	Seq         int64 `json:"seq"`
	CreatedAt   int64 `json:"created_at"`
	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries bounds self-correction. When RetryCount reaches it the
	// task goes to failed instead of retrying.
	MaxRetries int `json:"max_retries"`

	// DependsOn lists task ids that must be completed before this task
	// may transition to running.
	DependsOn []string `json:"depends_on,omitempty"`

	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`

	// VCSRef is the version-control reference recorded once the change
	// is committed (duplicated from Result for cheap listing).
	VCSRef string `json:"vcs_ref,omitempty"`
}

// Duration returns the wall-clock time the task spent between start and
// completion, or zero if it never completed.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == 0 || t.CompletedAt == 0 {
		return 0
	}
	return time.Duration(t.CompletedAt-t.StartedAt) * time.Millisecond
}

// Spec describes a task to create. ID is assigned by the store.
type Spec struct {
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Priority    Priority `json:"priority"`
	DependsOn   []string `json:"depends_on,omitempty"`

	// MaxRetries bounds self-correction attempts. Zero means the store
	// default (3).
	MaxRetries int `json:"max_retries,omitempty"`
}

// Stats summarizes a project's backlog.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`

	// AverageDuration is the mean wall-clock duration of completed tasks.
	AverageDuration time.Duration `json:"average_duration"`

	// Remaining counts tasks that are not yet terminal.
	Remaining int `json:"remaining"`

	// ETA estimates time to drain the backlog: Remaining × AverageDuration.
	ETA time.Duration `json:"eta"`
}
