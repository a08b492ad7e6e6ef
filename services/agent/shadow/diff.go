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
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ApplyUnified applies a unified diff to the current view of a file and
// stages the result.
//
// Description:
//
//	The proposer may return a patch instead of full content for modify
//	edits. The patch is applied against Load's view (staged content if a
//	previous attempt staged some, else the real file), so consecutive
//	correction attempts compose. Nothing touches the real tree; the
//	result is staged like any other content.
//
// Outputs:
//
//	error - ErrPatchMismatch when hunk context does not match, or a
//	        parse error for malformed patches.
func (w *Workspace) ApplyUnified(relPath, patch string) error {
	current, err := w.Load(relPath)
	if err != nil {
		return err
	}

	fd, err := diff.ParseFileDiff([]byte(patch))
	if err != nil {
		return fmt.Errorf("parse patch for %s: %w", relPath, err)
	}

	updated, err := applyHunks(current, fd.Hunks)
	if err != nil {
		return fmt.Errorf("%s: %w", relPath, err)
	}
	return w.Stage(relPath, updated)
}

// applyHunks replays parsed hunks over content. Context and deletion
// lines must match the current content exactly.
func applyHunks(content string, hunks []*diff.Hunk) (string, error) {
	lines, trailingNewline := splitLines(content)

	sorted := make([]*diff.Hunk, len(hunks))
	copy(sorted, hunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrigStartLine < sorted[j].OrigStartLine })

	var out []string
	cursor := 0

	for _, h := range sorted {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion: the start line is the line *after* which
			// new content goes.
			start = int(h.OrigStartLine)
		}
		if start < cursor || start > len(lines) {
			return "", fmt.Errorf("hunk at line %d out of range: %w", h.OrigStartLine, ErrPatchMismatch)
		}

		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, body := range strings.Split(string(h.Body), "\n") {
			if body == "" || strings.HasPrefix(body, "\\") {
				// Trailing split artifact or "\ No newline at end of file".
				continue
			}
			op, text := body[0], body[1:]
			switch op {
			case ' ':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("context mismatch at line %d: %w", cursor+1, ErrPatchMismatch)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("deletion mismatch at line %d: %w", cursor+1, ErrPatchMismatch)
				}
				cursor++
			case '+':
				out = append(out, text)
			default:
				return "", fmt.Errorf("unknown hunk line %q: %w", body, ErrPatchMismatch)
			}
		}
	}

	out = append(out, lines[cursor:]...)

	result := strings.Join(out, "\n")
	if trailingNewline && result != "" {
		result += "\n"
	}
	return result, nil
}

// splitLines splits content into lines without the trailing newline
// artifact, reporting whether the content ended with a newline.
func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = strings.TrimSuffix(content, "\n")
	}
	return strings.Split(content, "\n"), trailing
}
