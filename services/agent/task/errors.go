// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package task provides the durable task lifecycle store.
//
// A Task is one schedulable unit of work with a dependency list and a
// lifecycle status. Tasks are created by the planner, mutated only by the
// execution loop, and never deleted: failed and completed tasks remain as
// an audit trail. Every mutation is a single store transaction, so a fresh
// process always observes the last durably recorded state.
//
// # State Machine
//
//	pending → running → {completed | retrying → running | failed}
//	pending → skipped (explicit abandonment, e.g. a failed dependency)
//
// completed, failed, and skipped are terminal.
//
// # Thread Safety
//
// Store is safe for concurrent use; mutations serialize through the
// underlying store's transactions. The orchestration model is still a
// single writer per project (see the executor package).
package task

import "errors"

// Sentinel errors for task store operations.
var (
	// ErrNotFound indicates no task exists with the given id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidSpec indicates a create request failed validation.
	ErrInvalidSpec = errors.New("invalid task spec")

	// ErrInvalidTransition indicates a lifecycle transition that the
	// state machine does not permit (e.g. completing a pending task).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDependenciesUnmet indicates an attempt to start a task whose
	// dependency list is not fully completed.
	ErrDependenciesUnmet = errors.New("task dependencies not completed")

	// ErrNoneReady indicates pending or retrying tasks remain but all of
	// them are blocked on incomplete dependencies. Callers must treat
	// this differently from ErrDrained: work remains, it just cannot
	// start yet (or is deadlocked on a failed dependency).
	ErrNoneReady = errors.New("no task ready")

	// ErrDrained indicates no pending or retrying tasks remain at all.
	ErrDrained = errors.New("task backlog drained")
)
