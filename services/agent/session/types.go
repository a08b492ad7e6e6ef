// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "encoding/json"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Resumable reports whether a session in this status can be picked up by
// a fresh process.
func (s Status) Resumable() bool {
	return s != StatusCompleted && s != StatusFailed
}

// Checkpoint is an immutable progress snapshot inside a session.
// Checkpoints are append-only and never mutated; they exist for
// diagnostics and resume, not for replay.
type Checkpoint struct {
	// Seq is the 1-based sequence index within the session.
	Seq int `json:"seq"`

	// State is an arbitrary snapshot (counts, progress) captured by the
	// caller at checkpoint time.
	State json.RawMessage `json:"state,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// Session is one grouped, resumable execution run.
// Timestamps are milliseconds since the Unix epoch.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    Status `json:"status"`

	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`

	// CurrentTaskID points at the task in flight, empty between tasks.
	CurrentTaskID string `json:"current_task_id,omitempty"`

	CompletedTaskIDs []string `json:"completed_task_ids,omitempty"`
	FailedTaskIDs    []string `json:"failed_task_ids,omitempty"`

	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`

	// Summary is set on completion, Error on failure.
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CompletionPercentage returns completed/total as a percentage.
// Zero-total sessions report 0.
func (s *Session) CompletionPercentage() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
}

// Progress describes one progress mutation. Exactly one field should be
// set per call; setting CompletedTaskID or FailedTaskID also clears the
// current task pointer when it matches.
type Progress struct {
	CurrentTaskID   string
	CompletedTaskID string
	FailedTaskID    string
}
