// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command caldera is the autonomous code-change agent CLI.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/caldera/pkg/logging"
	"github.com/AleutianAI/caldera/services/agent/config"
	"github.com/AleutianAI/caldera/services/agent/executor"
	"github.com/AleutianAI/caldera/services/agent/knowledge"
	"github.com/AleutianAI/caldera/services/agent/proposer"
	"github.com/AleutianAI/caldera/services/agent/session"
	"github.com/AleutianAI/caldera/services/agent/shadow"
	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
	"github.com/AleutianAI/caldera/services/agent/task"
	"github.com/AleutianAI/caldera/services/agent/telemetry"
	"github.com/AleutianAI/caldera/services/agent/validate"
	"github.com/AleutianAI/caldera/services/agent/vcs"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "caldera",
	Short: "Autonomous code-change agent",
	Long: `Caldera executes a backlog of code-change tasks against a project:
it proposes edits, stages them in a shadow workspace, validates, and
commits one durable change per task, surviving process restarts.

All state is local (embedded store under data_dir); runs are resumable
with 'caldera resume' after an interruption.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "caldera.yaml", "path to configuration file")
}

// runtime bundles everything a command needs after config load.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	db       *storage.DB
	tasks    *task.Store
	sessions *session.Manager
	graphs   *knowledge.Store
	tel      *telemetry.Telemetry
}

func openRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "agent",
	})

	db, err := storage.Open(storage.DefaultConfig(cfg.DataDir))
	if err != nil {
		logger.Close()
		return nil, err
	}

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:   "caldera",
		EnableTracing: cfg.Tracing,
	})
	if err != nil {
		db.Close()
		logger.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		tasks:    task.NewStore(db, logger.Logger),
		sessions: session.NewManager(db, logger.Logger),
		graphs:   knowledge.NewStore(db),
		tel:      tel,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.tel.Shutdown(ctx); err != nil {
		rt.logger.Warn("telemetry shutdown failed", "error", err)
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("store close failed", "error", err)
	}
	rt.logger.Close()
}

// buildExecutor assembles the run loop with all collaborators.
func buildExecutor(ctx context.Context, rt *runtime) (*executor.Executor, *knowledge.Watcher, error) {
	cfg := rt.cfg

	builder := knowledge.NewBuilder(knowledge.BuilderConfig{
		IgnoreDirs:  cfg.Graph.IgnoreDirs,
		MaxFileSize: cfg.Graph.MaxFileSizeBytes,
		Concurrency: cfg.Graph.Concurrency,
	}, rt.logger.Logger)

	var watcher *knowledge.Watcher
	if cfg.Graph.Watch {
		ignore := cfg.Graph.IgnoreDirs
		if ignore == nil {
			ignore = knowledge.DefaultBuilderConfig().IgnoreDirs
		}
		w, err := knowledge.NewWatcher(cfg.Root, ignore, rt.logger.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create tree watcher: %w", err)
		}
		watcher = w
		go watcher.Run(ctx)
	}

	prop, err := proposer.NewOpenAI(proposer.OpenAIConfig{
		Model:             cfg.Proposer.Model,
		BaseURL:           cfg.Proposer.BaseURL,
		RequestsPerSecond: cfg.Proposer.RequestsPerSecond,
		MaxOutputTokens:   cfg.Proposer.MaxOutputTokens,
	}, rt.logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	var validator validate.Validator = validate.Noop{}
	if len(cfg.Validator.Command) > 0 {
		validator, err = validate.NewCommandValidator(validate.CommandConfig{
			Command:   cfg.Validator.Command,
			Dir:       cfg.Root,
			Timeout:   cfg.Validator.Timeout.Std(),
			PassPaths: cfg.Validator.PassPaths,
		}, rt.logger.Logger)
		if err != nil {
			return nil, nil, err
		}
	}

	committer, err := vcs.NewGit(ctx, cfg.Root, rt.logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	retry := proposer.DefaultRetryConfig()
	if cfg.Proposer.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Proposer.MaxAttempts
	}
	if cfg.Proposer.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.Proposer.InitialBackoff.Std()
	}
	if cfg.Proposer.MaxBackoff > 0 {
		retry.MaxBackoff = cfg.Proposer.MaxBackoff.Std()
	}
	if cfg.Proposer.MaxElapsed > 0 {
		retry.MaxElapsed = cfg.Proposer.MaxElapsed.Std()
	}
	if cfg.Proposer.PerCallTimeout > 0 {
		retry.PerCallTimeout = cfg.Proposer.PerCallTimeout.Std()
	}

	exec, err := executor.New(executor.Config{
		ProjectID:       cfg.ProjectID,
		Root:            cfg.Root,
		MaxContextFiles: cfg.Executor.MaxContextFiles,
		CheckpointEvery: cfg.Executor.CheckpointEvery,
		Retry:           retry,
	}, executor.Deps{
		Tasks:     rt.tasks,
		Sessions:  rt.sessions,
		Graphs:    rt.graphs,
		Builder:   builder,
		Watcher:   watcher,
		Workspace: shadow.NewWorkspace(cfg.Root, rt.logger.Logger),
		Proposer:  prop,
		Validator: validator,
		Committer: committer,
		Telemetry: rt.tel,
		Logger:    rt.logger.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return exec, watcher, nil
}
