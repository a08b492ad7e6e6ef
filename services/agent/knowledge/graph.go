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
	"fmt"
	"sort"
)

// Graph is the component dependency graph for one project at one point in
// time. Built fresh per analysis pass; read-only after Build returns.
type Graph struct {
	ProjectID  string                `json:"project_id"`
	Root       string                `json:"root"`
	Components map[string]*Component `json:"components"`
	BuiltAt    int64                 `json:"built_at"`

	// Errors lists files that were skipped during the scan.
	Errors []ScanError `json:"errors,omitempty"`
}

// Component returns the component with the given id, or
// ErrComponentNotFound.
func (g *Graph) Component(id string) (*Component, error) {
	c, ok := g.Components[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrComponentNotFound)
	}
	return c, nil
}

// AddDependency records that from depends on to. The reverse used_by edge
// is written in the same call; edge symmetry is an invariant of the
// graph, never left to callers. Duplicate and self edges are ignored.
func (g *Graph) AddDependency(from, to string, confidence Confidence) error {
	if from == to {
		return nil
	}
	src, ok := g.Components[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, ErrComponentNotFound)
	}
	dst, ok := g.Components[to]
	if !ok {
		return fmt.Errorf("%s: %w", to, ErrComponentNotFound)
	}

	for _, e := range src.DependsOn {
		if e.ID == to {
			return nil
		}
	}
	src.DependsOn = append(src.DependsOn, Edge{ID: to, Confidence: confidence})
	dst.UsedBy = append(dst.UsedBy, Edge{ID: from, Confidence: confidence})
	return nil
}

// Dependencies returns the ids this component depends on. With recursive
// set, the full transitive closure in breadth-first order.
func (g *Graph) Dependencies(id string, recursive bool) ([]string, error) {
	return g.traverse(id, recursive, func(c *Component) []Edge { return c.DependsOn })
}

// Dependents returns the ids that use this component. With recursive set,
// the full transitive closure in breadth-first order.
func (g *Graph) Dependents(id string, recursive bool) ([]string, error) {
	return g.traverse(id, recursive, func(c *Component) []Edge { return c.UsedBy })
}

// AffectedBy returns the transitive dependents of a component: the blast
// radius a change to it might reach. Because edges are heuristic this is
// a hint for bounding proposer context, not a guarantee.
func (g *Graph) AffectedBy(id string) ([]string, error) {
	return g.Dependents(id, true)
}

func (g *Graph) traverse(id string, recursive bool, edges func(*Component) []Edge) ([]string, error) {
	start, err := g.Component(id)
	if err != nil {
		return nil, err
	}

	if !recursive {
		out := make([]string, 0, len(edges(start)))
		for _, e := range edges(start) {
			out = append(out, e.ID)
		}
		sort.Strings(out)
		return out, nil
	}

	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := g.Components[cur]
		if !ok {
			continue
		}
		for _, e := range edges(c) {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e.ID)
			queue = append(queue, e.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Size returns the number of components in the graph.
func (g *Graph) Size() int {
	return len(g.Components)
}
