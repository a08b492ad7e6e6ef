// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proposer defines the Change Proposer contract and its
// production implementation.
//
// The execution loop depends only on the Proposer interface: given a task
// description, a bounded file context, and optional diagnostic feedback
// from a failed validation, a proposer returns concrete edits. Whether
// that is a generative model, a script, or a human is invisible to the
// core.
package proposer

import "context"

// EditAction tags what an edit does to its target path.
type EditAction string

const (
	// ActionCreate introduces a new file with full content.
	ActionCreate EditAction = "create"

	// ActionModify changes an existing file, either with full
	// replacement content or a unified diff patch.
	ActionModify EditAction = "modify"
)

// Edit is one proposed change to one file.
type Edit struct {
	Action EditAction `json:"action"`

	// Path is project-relative.
	Path string `json:"path"`

	// Content is the full file content. Required for create; for modify
	// it is the replacement content unless Patch is set.
	Content string `json:"content,omitempty"`

	// Patch is a unified diff against the current content. Only valid
	// for modify.
	Patch string `json:"patch,omitempty"`
}

// TaskContext describes the task being worked, independent of how the
// task store models it.
type TaskContext struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Request is the proposer input contract.
type Request struct {
	Task TaskContext `json:"task"`

	// Files maps project-relative paths to their current content — the
	// possibly previously-staged view, so correction attempts see their
	// own prior edits.
	Files map[string]string `json:"files"`

	// Feedback carries the validation diagnostic from the previous
	// attempt when this is a correction, empty on the first attempt.
	Feedback string `json:"feedback,omitempty"`
}

// Response is the proposer output contract: at least one edit, plus an
// optional summary used in the commit message.
type Response struct {
	Edits   []Edit `json:"edits"`
	Summary string `json:"summary,omitempty"`
}

// Proposer produces candidate edits for a task.
type Proposer interface {
	Propose(ctx context.Context, req Request) (*Response, error)
}
