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
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
)

func graphKey(projectID string) string {
	return "graph/" + projectID
}

// Store persists one graph document per project.
type Store struct {
	db *storage.DB
}

// NewStore creates a graph store over the given database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Save writes the full component map for the graph's project, replacing
// any previous build.
func (s *Store) Save(ctx context.Context, graph *Graph) error {
	if graph == nil || graph.ProjectID == "" {
		return errors.New("graph with project_id is required")
	}
	return s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		return storage.PutJSON(txn, graphKey(graph.ProjectID), graph)
	})
}

// Load reads the persisted graph for a project, or ErrGraphNotFound.
func (s *Store) Load(ctx context.Context, projectID string) (*Graph, error) {
	var graph Graph
	err := s.db.View(ctx, func(txn *badgerdb.Txn) error {
		return storage.GetJSON(txn, graphKey(projectID), &graph)
	})
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("project %s: %w", projectID, ErrGraphNotFound)
		}
		return nil, err
	}
	if graph.Components == nil {
		graph.Components = make(map[string]*Component)
	}
	return &graph, nil
}
