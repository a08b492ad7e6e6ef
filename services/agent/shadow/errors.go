// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shadow stages proposed file content in memory until it has been
// validated.
//
// The invariant the whole safe-edit protocol rests on: the real
// filesystem is touched only by Commit. Load, Stage, ApplyUnified, and
// Rollback are pure in-memory operations, so the execution loop can try a
// change, validate it, and discard it without ever leaving the real tree
// inconsistent. Staged content is deliberately not persisted across
// process restarts; losing the in-flight task's uncommitted edits on a
// crash is the accepted cost.
//
// # Thread Safety
//
// Workspace is safe for concurrent use, though the execution model is a
// single sequential writer.
package shadow

import "errors"

// Sentinel errors for shadow workspace operations.
var (
	// ErrNotStaged indicates a commit or rollback for a path that was
	// never staged.
	ErrNotStaged = errors.New("path not staged")

	// ErrPathEscapes indicates a path that is absolute or traverses
	// outside the workspace root.
	ErrPathEscapes = errors.New("path escapes workspace root")

	// ErrPatchMismatch indicates a unified diff whose context does not
	// match the current content of the file.
	ErrPatchMismatch = errors.New("patch does not apply")
)
