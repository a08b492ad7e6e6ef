// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge builds a static dependency graph over a source tree.
//
// Each source file becomes a Component with lexically extracted imports
// and exports and a path-heuristic category. A resolution pass matches
// import strings against known component base names and records
// bidirectional, confidence-tagged edges.
//
// This is a best-effort approximation, not a resolver: matching is
// substring-based, false edges are expected, and downstream consumers
// must treat AffectedBy as a hint rather than a guarantee. Semantic
// (type-aware) resolution is an explicit non-goal.
//
// # Thread Safety
//
// A Graph is built single-writer and read-only afterwards. Builder is
// safe for concurrent use; each Build call produces an independent Graph.
package knowledge

import (
	"errors"
	"fmt"
)

// Sentinel errors for knowledge graph operations.
var (
	// ErrInvalidRoot indicates the scan root does not exist or is not a
	// directory.
	ErrInvalidRoot = errors.New("invalid scan root")

	// ErrComponentNotFound indicates a query referenced an unknown
	// component id.
	ErrComponentNotFound = errors.New("component not found")

	// ErrGraphNotFound indicates no persisted graph exists for the
	// project.
	ErrGraphNotFound = errors.New("knowledge graph not found")
)

// ScanError records a non-fatal failure while scanning one file.
// Unreadable files are skipped and reported here; they never abort the
// build.
type ScanError struct {
	// Path is the project-relative path of the file that failed.
	Path string `json:"path"`

	// Reason is the underlying error text (kept as a string so the
	// record survives JSON round-trips).
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e ScanError) Error() string {
	return fmt.Sprintf("scan %s: %s", e.Path, e.Reason)
}
