// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor orchestrates one resumable run over the task backlog.
//
// The loop is sequential by design: each task needs a consistent view of
// the working tree and version-control state, so tasks are never executed
// in parallel. Every blocking step — proposer call, validation,
// filesystem commit, git — is awaited before the loop proceeds, and every
// task/session mutation is persisted immediately, so the process can be
// killed at any suspension point and a fresh one resumes from the last
// durable state. At most the in-flight task's uncommitted shadow edits
// are lost.
//
// Per task: resolve bounded file context from the knowledge graph, ask
// the proposer for edits, stage them in the shadow workspace, validate,
// and either commit (one git commit per task) or roll back and feed the
// diagnostics into the next attempt. The self-correction bound lives on
// the task record; exhausting it hard-resets the tree and propagates the
// failure to dependent tasks. One task's exhaustion never aborts the run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/caldera/services/agent/knowledge"
	"github.com/AleutianAI/caldera/services/agent/proposer"
	"github.com/AleutianAI/caldera/services/agent/session"
	"github.com/AleutianAI/caldera/services/agent/shadow"
	"github.com/AleutianAI/caldera/services/agent/task"
	"github.com/AleutianAI/caldera/services/agent/telemetry"
	"github.com/AleutianAI/caldera/services/agent/validate"
	"github.com/AleutianAI/caldera/services/agent/vcs"
)

// Config configures one run.
type Config struct {
	// ProjectID scopes all persisted state.
	ProjectID string

	// Root is the project working tree.
	Root string

	// MaxContextFiles bounds how many files are handed to the proposer.
	// Default: 10.
	MaxContextFiles int

	// CheckpointEvery writes a session checkpoint after this many
	// finished tasks. Default: 5.
	CheckpointEvery int

	// Retry configures backoff for proposer calls.
	Retry proposer.RetryConfig
}

// Validate checks the run configuration.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if c.Root == "" {
		return errors.New("root is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxContextFiles <= 0 {
		c.MaxContextFiles = 10
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = proposer.DefaultRetryConfig()
	}
}

// Deps are the collaborators a run needs, constructed by the caller and
// passed in explicitly — there are no shared module-level instances.
type Deps struct {
	Tasks     *task.Store
	Sessions  *session.Manager
	Graphs    *knowledge.Store
	Builder   *knowledge.Builder
	Watcher   *knowledge.Watcher // optional
	Workspace *shadow.Workspace
	Proposer  proposer.Proposer
	Validator validate.Validator
	Committer vcs.Committer
	Telemetry *telemetry.Telemetry // optional; Noop when nil
	Logger    *slog.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Tasks == nil:
		return errors.New("task store is required")
	case d.Sessions == nil:
		return errors.New("session manager is required")
	case d.Graphs == nil:
		return errors.New("graph store is required")
	case d.Builder == nil:
		return errors.New("graph builder is required")
	case d.Workspace == nil:
		return errors.New("shadow workspace is required")
	case d.Proposer == nil:
		return errors.New("proposer is required")
	case d.Validator == nil:
		return errors.New("validator is required")
	case d.Committer == nil:
		return errors.New("committer is required")
	}
	return nil
}

// Executor runs the task loop for one project.
type Executor struct {
	cfg    Config
	deps   Deps
	tel    *telemetry.Telemetry
	logger *slog.Logger

	graph *knowledge.Graph
}

// New creates an executor.
func New(cfg Config, deps Deps) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("executor deps: %w", err)
	}
	cfg.applyDefaults()

	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, deps: deps, tel: tel, logger: logger}, nil
}

// Run executes ready tasks until the backlog drains.
//
// Description:
//
//	Resumes the project's paused or running session when one exists,
//	otherwise creates and starts a new one sized to the non-terminal
//	backlog. A knowledge graph build failure at startup is run-fatal:
//	the session is marked failed and the error returned. From then on
//	errors are task-local — the loop always proceeds to the next ready
//	task.
//
// Outputs:
//
//	*session.Session - The finished session record.
//	error - Run-level failures only (startup, context cancellation).
func (e *Executor) Run(ctx context.Context) (*session.Session, error) {
	sess, err := e.openSession(ctx)
	if err != nil {
		return nil, err
	}

	// A previous process may have been killed mid-task, leaving its task
	// stranded in running. Return those to the eligible set first.
	if _, err := e.deps.Tasks.Requeue(ctx, e.cfg.ProjectID); err != nil {
		return nil, err
	}

	if err := e.rebuildGraph(ctx); err != nil {
		_, ferr := e.deps.Sessions.Fail(ctx, e.cfg.ProjectID, sess.ID, err.Error())
		if ferr != nil {
			e.logger.Error("failed to record session failure", slog.String("error", ferr.Error()))
		}
		return nil, fmt.Errorf("knowledge graph build: %w", err)
	}

	sinceCheckpoint := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.pauseForShutdown(ctx, sess.ID, err)
		}

		if e.deps.Watcher != nil && e.deps.Watcher.Stale() {
			if err := e.rebuildGraph(ctx); err != nil {
				e.logger.Warn("graph rebuild failed, using previous build", slog.String("error", err.Error()))
			} else {
				e.deps.Watcher.ClearStale()
			}
		}

		t, err := e.deps.Tasks.NextReady(ctx, e.cfg.ProjectID)
		switch {
		case errors.Is(err, task.ErrDrained):
			return e.finishSession(ctx, sess.ID)
		case errors.Is(err, task.ErrNoneReady):
			if err := e.resolveBlocked(ctx); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, e.pauseForShutdown(ctx, sess.ID, err)
		}

		if err := e.runTask(ctx, sess.ID, t); err != nil {
			return nil, e.pauseForShutdown(ctx, sess.ID, err)
		}

		sinceCheckpoint++
		if sinceCheckpoint >= e.cfg.CheckpointEvery {
			e.checkpoint(ctx, sess.ID)
			sinceCheckpoint = 0
		}
	}
}

// pauseForShutdown leaves the session paused when the run error is a
// cancellation, so a fresh process finds it via ResumePoint. Any other
// error passes through untouched.
func (e *Executor) pauseForShutdown(ctx context.Context, sessionID string, cause error) error {
	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	if _, err := e.deps.Sessions.Pause(context.WithoutCancel(ctx), e.cfg.ProjectID, sessionID); err != nil {
		e.logger.Error("pause on shutdown failed", slog.String("error", err.Error()))
	}
	return cause
}

func (e *Executor) openSession(ctx context.Context) (*session.Session, error) {
	if prev, err := e.deps.Sessions.ResumePoint(ctx, e.cfg.ProjectID); err == nil {
		if prev.Status == session.StatusPaused {
			resumed, rerr := e.deps.Sessions.Resume(ctx, e.cfg.ProjectID, prev.ID)
			if rerr != nil {
				return nil, rerr
			}
			e.logger.Info("resuming session",
				slog.String("session_id", resumed.ID),
				slog.Int("completed", resumed.CompletedTasks),
				slog.Int("total", resumed.TotalTasks))
			return resumed, nil
		}
		e.logger.Info("continuing session", slog.String("session_id", prev.ID))
		return prev, nil
	} else if !errors.Is(err, session.ErrNoResumePoint) {
		return nil, err
	}

	stats, err := e.deps.Tasks.Statistics(ctx, e.cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	sess, err := e.deps.Sessions.Create(ctx, e.cfg.ProjectID, stats.Remaining)
	if err != nil {
		return nil, err
	}
	return e.deps.Sessions.Start(ctx, e.cfg.ProjectID, sess.ID)
}

func (e *Executor) rebuildGraph(ctx context.Context) error {
	graph, err := e.deps.Builder.Build(ctx, e.cfg.ProjectID, e.cfg.Root)
	if err != nil {
		return err
	}
	if err := e.deps.Graphs.Save(ctx, graph); err != nil {
		return err
	}
	e.graph = graph
	return nil
}

// resolveBlocked handles the nothing-ready-but-work-remains state. After
// failure propagation this only happens for dependency cycles or
// references to tasks that do not exist; those can never run, so they
// are skipped explicitly rather than stranded forever.
func (e *Executor) resolveBlocked(ctx context.Context) error {
	tasks, err := e.deps.Tasks.List(ctx, e.cfg.ProjectID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != task.StatusPending && t.Status != task.StatusRetrying {
			continue
		}
		e.logger.Warn("abandoning unrunnable task",
			slog.String("task_id", t.ID),
			slog.Any("depends_on", t.DependsOn))
		if t.Status == task.StatusPending {
			if _, serr := e.deps.Tasks.Skip(ctx, e.cfg.ProjectID, t.ID, "unresolvable dependencies"); serr != nil {
				return serr
			}
			e.tel.Metrics.TasksSkipped.Inc()
		}
	}
	return nil
}

func (e *Executor) finishSession(ctx context.Context, sessionID string) (*session.Session, error) {
	e.checkpoint(ctx, sessionID)

	sess, err := e.deps.Sessions.Get(ctx, e.cfg.ProjectID, sessionID)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("%d/%d tasks completed, %d failed",
		sess.CompletedTasks, sess.TotalTasks, sess.FailedTasks)
	return e.deps.Sessions.Complete(ctx, e.cfg.ProjectID, sessionID, summary)
}

func (e *Executor) checkpoint(ctx context.Context, sessionID string) {
	sess, err := e.deps.Sessions.Get(ctx, e.cfg.ProjectID, sessionID)
	if err != nil {
		e.logger.Warn("checkpoint read failed", slog.String("error", err.Error()))
		return
	}
	snapshot := map[string]any{
		"completed_tasks":       sess.CompletedTasks,
		"failed_tasks":          sess.FailedTasks,
		"completion_percentage": sess.CompletionPercentage(),
	}
	if _, err := e.deps.Sessions.Checkpoint(ctx, e.cfg.ProjectID, sessionID, snapshot); err != nil {
		e.logger.Warn("checkpoint write failed", slog.String("error", err.Error()))
	}
}

// runTask drives one task through the bounded self-correction loop.
// Returns an error only for run-level problems (storage, cancellation);
// task-level failures are absorbed into the task record.
func (e *Executor) runTask(ctx context.Context, sessionID string, t *task.Task) error {
	running, err := e.deps.Tasks.Start(ctx, e.cfg.ProjectID, t.ID)
	if err != nil {
		return err
	}
	if _, err := e.deps.Sessions.UpdateProgress(ctx, e.cfg.ProjectID, sessionID,
		session.Progress{CurrentTaskID: t.ID}); err != nil {
		return err
	}

	e.logger.Info("task started",
		slog.String("task_id", t.ID),
		slog.String("title", t.Title),
		slog.String("priority", string(t.Priority)))

	feedback := ""
	for attempt := running.RetryCount + 1; ; attempt++ {
		diag, done, err := e.attempt(ctx, t, attempt, feedback)
		if err != nil {
			return err
		}
		if done {
			e.tel.Metrics.TasksCompleted.Inc()
			e.tel.Metrics.CorrectionAttempts.Observe(float64(attempt))
			if _, err := e.deps.Sessions.UpdateProgress(ctx, e.cfg.ProjectID, sessionID,
				session.Progress{CompletedTaskID: t.ID}); err != nil {
				return err
			}
			return nil
		}

		failed, ferr := e.deps.Tasks.Fail(ctx, e.cfg.ProjectID, t.ID, diag)
		if ferr != nil {
			return ferr
		}
		if failed.Status == task.StatusRetrying {
			feedback = diag
			if _, serr := e.deps.Tasks.Start(ctx, e.cfg.ProjectID, t.ID); serr != nil {
				return serr
			}
			continue
		}

		// Bound exhausted: discard any uncommitted tree state entirely
		// and propagate the failure to dependents.
		if rerr := e.deps.Committer.HardReset(ctx); rerr != nil {
			e.logger.Error("hard reset failed", slog.String("error", rerr.Error()))
		}
		e.tel.Metrics.TasksFailed.Inc()
		e.tel.Metrics.CorrectionAttempts.Observe(float64(attempt))

		skipped, serr := e.deps.Tasks.SkipDependents(ctx, e.cfg.ProjectID, t.ID)
		if serr != nil {
			return serr
		}
		for range skipped {
			e.tel.Metrics.TasksSkipped.Inc()
		}

		if _, err := e.deps.Sessions.UpdateProgress(ctx, e.cfg.ProjectID, sessionID,
			session.Progress{FailedTaskID: t.ID}); err != nil {
			return err
		}
		return nil
	}
}

// attempt runs one propose → stage → validate → commit cycle.
//
// Outputs:
//
//	string - Diagnostic text for the next correction attempt (on failure).
//	bool - True when the task completed and was committed.
//	error - Run-level errors only.
func (e *Executor) attempt(ctx context.Context, t *task.Task, attempt int, feedback string) (string, bool, error) {
	ctx, span := e.tel.Tracer.Start(ctx, "executor.attempt",
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.Int("task.attempt", attempt),
		))
	defer span.End()

	files, err := e.contextFiles(t)
	if err != nil {
		return "", false, err
	}

	req := proposer.Request{
		Task: proposer.TaskContext{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Type:        t.Type,
		},
		Files:    files,
		Feedback: feedback,
	}

	var resp *proposer.Response
	result, perr := proposer.Retry(ctx, e.cfg.Retry, func(ctx context.Context, n int) error {
		var callErr error
		resp, callErr = e.deps.Proposer.Propose(ctx, req)
		return callErr
	})
	if result.Attempts > 1 {
		e.tel.Metrics.ProposerErrors.Add(float64(result.Attempts - 1))
	}
	if perr != nil {
		if errors.Is(perr, context.Canceled) {
			return "", false, perr
		}
		e.logger.Warn("proposer call failed",
			slog.String("task_id", t.ID),
			slog.Int("attempts", result.Attempts),
			slog.String("error", perr.Error()))
		return fmt.Sprintf("change proposer failed: %v", perr), false, nil
	}

	staged, stageErr := e.stage(resp.Edits)
	if stageErr != nil {
		e.deps.Workspace.RollbackAll()
		return fmt.Sprintf("staging failed: %v", stageErr), false, nil
	}

	verdict, verr := e.deps.Validator.Validate(ctx, staged)
	if verr != nil {
		e.deps.Workspace.RollbackAll()
		return fmt.Sprintf("validator error: %v", verr), false, nil
	}
	if !verdict.Pass {
		e.deps.Workspace.RollbackAll()
		e.logger.Info("validation failed, correcting",
			slog.String("task_id", t.ID),
			slog.Int("attempt", attempt))
		return verdict.Diagnostics, false, nil
	}

	committed, cerr := e.deps.Workspace.CommitAll()
	if cerr != nil {
		// Partial filesystem state is possible here; reset to the last
		// committed revision before reporting the attempt failed.
		e.deps.Workspace.RollbackAll()
		if rerr := e.deps.Committer.HardReset(ctx); rerr != nil {
			e.logger.Error("hard reset after commit failure failed", slog.String("error", rerr.Error()))
		}
		return fmt.Sprintf("filesystem commit failed: %v", cerr), false, nil
	}

	message := vcs.CommitMessage(t.ID, resp.Summary)
	sha, gerr := e.deps.Committer.Commit(ctx, committed, message)
	if gerr != nil {
		if rerr := e.deps.Committer.HardReset(ctx); rerr != nil {
			e.logger.Error("hard reset after git failure failed", slog.String("error", rerr.Error()))
		}
		return fmt.Sprintf("version-control commit failed: %v", gerr), false, nil
	}

	branch, berr := e.deps.Committer.Branch(ctx)
	if berr != nil {
		branch = ""
	}

	change := task.NewChangeResult(task.ChangeResult{
		CommitSHA: sha,
		Branch:    branch,
		Paths:     committed,
		Attempts:  attempt,
		Summary:   resp.Summary,
	})
	if _, err := e.deps.Tasks.Complete(ctx, e.cfg.ProjectID, t.ID, change); err != nil {
		return "", false, err
	}

	e.tel.Metrics.CommitsTotal.Inc()
	if e.deps.Watcher != nil {
		e.deps.Watcher.MarkStale()
	}
	return "", true, nil
}

// stage applies proposed edits to the shadow workspace. Nothing touches
// the real tree here.
func (e *Executor) stage(edits []proposer.Edit) ([]string, error) {
	var staged []string
	for _, edit := range edits {
		switch {
		case edit.Action == proposer.ActionModify && edit.Patch != "":
			if err := e.deps.Workspace.ApplyUnified(edit.Path, edit.Patch); err != nil {
				return nil, err
			}
		case edit.Content != "":
			if err := e.deps.Workspace.Stage(edit.Path, edit.Content); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("edit for %s has neither content nor patch", edit.Path)
		}
		staged = append(staged, edit.Path)
	}
	return staged, nil
}

// contextFiles selects the bounded file context for a task: components
// whose path matches task keywords, widened with their transitive
// dependents so the proposer sees the blast radius, capped at
// MaxContextFiles.
func (e *Executor) contextFiles(t *task.Task) (map[string]string, error) {
	files := make(map[string]string)
	if e.graph == nil {
		return files, nil
	}

	keywords := tokenize(t.Title + " " + t.Description)
	type scored struct {
		id    string
		score int
	}
	var candidates []scored
	for id := range e.graph.Components {
		lower := strings.ToLower(id)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{id: id, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	var selected []string
	seen := make(map[string]bool)
	add := func(id string) bool {
		if seen[id] || len(selected) >= e.cfg.MaxContextFiles {
			return len(selected) < e.cfg.MaxContextFiles
		}
		seen[id] = true
		selected = append(selected, id)
		return true
	}

	for _, c := range candidates {
		if !add(c.id) {
			break
		}
		affected, err := e.graph.AffectedBy(c.id)
		if err != nil {
			continue
		}
		for _, dep := range affected {
			if !add(dep) {
				break
			}
		}
	}

	for _, id := range selected {
		content, err := e.deps.Workspace.Load(id)
		if err != nil {
			e.logger.Debug("context load failed", slog.String("path", id), slog.String("error", err.Error()))
			continue
		}
		files[id] = content
	}
	return files, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
