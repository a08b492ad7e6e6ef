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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/caldera/services/agent/session"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted run",
	Long: `Resume picks up the project's paused or running session and
continues draining the backlog from the last durable state. Fails when
there is nothing to resume; use 'caldera run' to start fresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prev, err := rt.sessions.ResumePoint(ctx, rt.cfg.ProjectID)
		if err != nil {
			if errors.Is(err, session.ErrNoResumePoint) {
				return fmt.Errorf("no interrupted session for project %s; use 'caldera run'", rt.cfg.ProjectID)
			}
			return err
		}
		fmt.Printf("Resuming session %s (%d/%d tasks completed)\n",
			prev.ID, prev.CompletedTasks, prev.TotalTasks)

		return runBacklog(ctx, rt)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
