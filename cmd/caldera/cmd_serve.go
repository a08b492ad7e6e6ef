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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/caldera/services/agent/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API",
	Long: `Serve exposes the agent's persisted state over HTTP on api_addr:
task and session listings, backlog statistics, graph queries, task
enqueueing, and Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gin.SetMode(gin.ReleaseMode)
		handlers := api.NewHandlers(rt.tasks, rt.sessions, rt.graphs, rt.logger.Logger)
		router := api.NewRouter(handlers, rt.tel.Registry)

		srv := &http.Server{
			Addr:              rt.cfg.APIAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("Status API listening on %s\n", rt.cfg.APIAddr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
