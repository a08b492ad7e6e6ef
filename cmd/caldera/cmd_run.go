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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/caldera/services/agent/task"
)

// ====== COMMAND FLAGS ======

var runPlanPath string

// ====== COMMAND DEFINITIONS ======

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the task backlog",
	Long: `Run drains the project's task backlog: for each ready task it
proposes a change, stages it in the shadow workspace, validates, and
commits. Interrupt with Ctrl-C at any point; the session is paused and
'caldera run' (or 'caldera resume') picks up where it left off.

With --plan, tasks are enqueued from a YAML plan file before the run:

  tasks:
    - key: parser
      title: "Extract the config parser"
      priority: high
    - key: tests
      title: "Add parser tests"
      depends_on: [parser]

Keys are plan-local names; depends_on references keys of earlier
entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runPlanPath != "" {
			n, err := enqueuePlan(ctx, rt, runPlanPath)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued %d task(s) from %s\n", n, runPlanPath)
		}

		return runBacklog(ctx, rt)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "YAML plan file to enqueue before running")
	rootCmd.AddCommand(runCmd)
}

// ====== PLAN LOADING ======

type planTask struct {
	Key         string   `yaml:"key"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Priority    string   `yaml:"priority"`
	DependsOn   []string `yaml:"depends_on"`
	MaxRetries  int      `yaml:"max_retries"`
}

type plan struct {
	Tasks []planTask `yaml:"tasks"`
}

// enqueuePlan creates tasks from a plan file, resolving plan-local
// dependency keys to the created task IDs. Entries must be listed after
// the entries they depend on.
func enqueuePlan(ctx context.Context, rt *runtime, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read plan %s: %w", path, err)
	}
	var p plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("parse plan %s: %w", path, err)
	}

	ids := make(map[string]string, len(p.Tasks))
	for i, pt := range p.Tasks {
		deps := make([]string, 0, len(pt.DependsOn))
		for _, key := range pt.DependsOn {
			id, ok := ids[key]
			if !ok {
				return 0, fmt.Errorf("plan entry %d depends on unknown key %q", i, key)
			}
			deps = append(deps, id)
		}

		retries := pt.MaxRetries
		if retries == 0 {
			retries = rt.cfg.Executor.MaxRetries
		}
		t, err := rt.tasks.Create(ctx, task.Spec{
			ProjectID:   rt.cfg.ProjectID,
			Title:       pt.Title,
			Description: pt.Description,
			Type:        pt.Type,
			Priority:    task.Priority(pt.Priority),
			DependsOn:   deps,
			MaxRetries:  retries,
		})
		if err != nil {
			return 0, fmt.Errorf("plan entry %d: %w", i, err)
		}
		if pt.Key != "" {
			ids[pt.Key] = t.ID
		}
	}
	return len(p.Tasks), nil
}

// ====== RUN LOOP ======

func runBacklog(ctx context.Context, rt *runtime) error {
	exec, watcher, err := buildExecutor(ctx, rt)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	sess, err := exec.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Interrupted; session paused. Run 'caldera resume' to continue.")
			return nil
		}
		return err
	}

	fmt.Printf("Session %s finished: %d/%d completed, %d failed\n",
		sess.ID, sess.CompletedTasks, sess.TotalTasks, sess.FailedTasks)
	return nil
}
