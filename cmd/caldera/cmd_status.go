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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/caldera/services/agent/session"
	"github.com/AleutianAI/caldera/services/agent/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog and session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())
		ctx := cmd.Context()

		stats, err := rt.tasks.Statistics(ctx, rt.cfg.ProjectID)
		if err != nil {
			return err
		}

		fmt.Printf("Project: %s\n", rt.cfg.ProjectID)
		fmt.Printf("Tasks:   %d total, %d remaining\n", stats.Total, stats.Remaining)
		for _, s := range []task.Status{
			task.StatusPending, task.StatusRunning, task.StatusRetrying,
			task.StatusCompleted, task.StatusFailed, task.StatusSkipped,
		} {
			if n := stats.ByStatus[s]; n > 0 {
				fmt.Printf("  %-10s %d\n", s, n)
			}
		}
		if stats.AverageDuration > 0 {
			fmt.Printf("Average task duration: %s\n", stats.AverageDuration.Round(stats.AverageDuration/100))
			fmt.Printf("Estimated time to drain: %s\n", stats.ETA)
		}

		sess, err := rt.sessions.ResumePoint(ctx, rt.cfg.ProjectID)
		switch {
		case errors.Is(err, session.ErrNoResumePoint):
			fmt.Println("Session: none in progress")
		case err != nil:
			return err
		default:
			fmt.Printf("Session: %s (%s), %.1f%% complete\n",
				sess.ID, sess.Status, sess.CompletionPercentage())
			if sess.CurrentTaskID != "" {
				fmt.Printf("  current task: %s\n", sess.CurrentTaskID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
