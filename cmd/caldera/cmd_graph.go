// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/caldera/services/agent/knowledge"
)

// ====== COMMAND FLAGS ======

var (
	graphRelation  string
	graphRecursive bool
)

// ====== COMMAND DEFINITIONS ======

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build and query the project knowledge graph",
}

var graphBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Scan the project tree and persist a fresh graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())
		ctx := cmd.Context()

		builder := knowledge.NewBuilder(knowledge.BuilderConfig{
			IgnoreDirs:  rt.cfg.Graph.IgnoreDirs,
			MaxFileSize: rt.cfg.Graph.MaxFileSizeBytes,
			Concurrency: rt.cfg.Graph.Concurrency,
		}, rt.logger.Logger)

		graph, err := builder.Build(ctx, rt.cfg.ProjectID, rt.cfg.Root)
		if err != nil {
			return err
		}
		if err := rt.graphs.Save(ctx, graph); err != nil {
			return err
		}
		fmt.Printf("Graph built: %d components\n", graph.Size())
		return nil
	},
}

var graphQueryCmd = &cobra.Command{
	Use:   "query <component-id>",
	Short: "Query relationships of one component",
	Long: `Query prints the components related to the given component ID
(a project-relative path). --relation selects dependencies, dependents,
or affected (the transitive dependent closure).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())
		ctx := cmd.Context()

		graph, err := rt.graphs.Load(ctx, rt.cfg.ProjectID)
		if err != nil {
			return err
		}

		id := args[0]
		var ids []string
		switch graphRelation {
		case "dependencies":
			ids, err = graph.Dependencies(id, graphRecursive)
		case "dependents":
			ids, err = graph.Dependents(id, graphRecursive)
		case "affected":
			ids, err = graph.AffectedBy(id)
		default:
			return fmt.Errorf("unknown relation %q", graphRelation)
		}
		if err != nil {
			return err
		}

		if len(ids) == 0 {
			fmt.Printf("%s: no %s\n", id, graphRelation)
			return nil
		}
		for _, related := range ids {
			fmt.Println(related)
		}
		return nil
	},
}

func init() {
	graphQueryCmd.Flags().StringVar(&graphRelation, "relation", "dependencies",
		"relation to query: dependencies, dependents, or affected")
	graphQueryCmd.Flags().BoolVar(&graphRecursive, "recursive", false,
		"follow the relation transitively")

	graphCmd.AddCommand(graphBuildCmd)
	graphCmd.AddCommand(graphQueryCmd)
	rootCmd.AddCommand(graphCmd)
}
