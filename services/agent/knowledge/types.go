// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"path"
	"strings"
)

// Category classifies a component by what it is for, derived from path
// heuristics.
type Category string

const (
	CategoryPage     Category = "page"
	CategoryAPI      Category = "api"
	CategoryDatabase Category = "database"
	CategoryUtility  Category = "utility"
	CategoryTest     Category = "test"
	CategoryConfig   Category = "config"
)

// Confidence tags how an edge was matched. Heuristic matching means fuzzy
// edges may be false positives; consumers must tolerate them.
type Confidence string

const (
	// ConfidenceExact means the import's base name equals the
	// component's base name.
	ConfidenceExact Confidence = "exact"

	// ConfidenceFuzzy means a substring match only.
	ConfidenceFuzzy Confidence = "fuzzy"
)

// Edge is one directed relationship to another component.
type Edge struct {
	ID         string     `json:"id"`
	Confidence Confidence `json:"confidence"`
}

// Component is one static source file in the graph. The id is the
// project-relative slash path.
type Component struct {
	ID       string   `json:"id"`
	Language string   `json:"language"`
	Category Category `json:"category"`

	// Imports and Exports are the raw lexically extracted strings.
	Imports []string `json:"imports,omitempty"`
	Exports []string `json:"exports,omitempty"`

	// DependsOn and UsedBy are kept symmetric: every DependsOn edge has
	// a matching reverse UsedBy edge on its target, and vice versa.
	DependsOn []Edge `json:"depends_on,omitempty"`
	UsedBy    []Edge `json:"used_by,omitempty"`
}

// BaseName returns the file name without directory or extension, the
// unit the resolver matches import strings against.
func (c *Component) BaseName() string {
	base := path.Base(c.ID)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

// Classify derives a category from a project-relative slash path.
//
// Heuristics, checked in order: test files first (a test under pages/ is
// still a test), then directory conventions, then config naming, then
// utility as the fallback.
func Classify(relPath string) Category {
	lower := strings.ToLower(relPath)
	base := path.Base(lower)

	switch {
	case strings.Contains(base, "_test.") || strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") || strings.Contains(lower, "/tests/") ||
		strings.HasPrefix(lower, "tests/") || strings.HasPrefix(base, "test_"):
		return CategoryTest
	case hasDir(lower, "pages", "views", "screens", "components"):
		return CategoryPage
	case hasDir(lower, "api", "routes", "controllers", "handlers", "endpoints"):
		return CategoryAPI
	case hasDir(lower, "models", "db", "database", "migrations", "repositories") ||
		strings.Contains(base, "schema"):
		return CategoryDatabase
	case strings.Contains(base, "config") || strings.Contains(base, "settings") ||
		hasDir(lower, "config"):
		return CategoryConfig
	default:
		return CategoryUtility
	}
}

func hasDir(lower string, names ...string) bool {
	for _, name := range names {
		if strings.HasPrefix(lower, name+"/") || strings.Contains(lower, "/"+name+"/") {
			return true
		}
	}
	return false
}
