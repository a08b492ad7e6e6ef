// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session groups one execution run over a batch of tasks into a
// durable, resumable record.
//
// A Session tracks counts, the current task pointer, and an append-only
// checkpoint history. Every mutation is persisted immediately, so after a
// crash a new process calls ResumePoint and continues from the last
// durably recorded state; at most the in-flight task's uncommitted shadow
// edits are lost.
//
// # State Machine
//
//	created → running → {paused ⇄ running, completed, failed}
//
// A session is resumable iff its status is not completed or failed. At
// most one active (created/running/paused) session exists per project;
// Create enforces this inside its transaction.
package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNotFound indicates no session exists with the given id.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition indicates a lifecycle transition the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrActiveSession indicates the project already has a session in a
	// resumable state. One canonical resume target per project is an
	// enforced invariant, not a convention.
	ErrActiveSession = errors.New("project already has an active session")

	// ErrNoResumePoint indicates no paused or running session exists for
	// the project.
	ErrNoResumePoint = errors.New("no resumable session")
)
