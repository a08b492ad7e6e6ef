// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
)

// DefaultMaxRetries bounds self-correction when a Spec does not set one.
const DefaultMaxRetries = 3

func taskKey(projectID, id string) string {
	return "task/" + projectID + "/" + id
}

func taskPrefix(projectID string) string {
	return "task/" + projectID + "/"
}

func seqKey(projectID string) string {
	return "taskseq/" + projectID
}

// Store is the durable task lifecycle store.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewStore creates a task store over the given database.
//
// Inputs:
//
//	db - Open store. Must not be nil.
//	logger - Structured logger. If nil, slog.Default() is used.
func NewStore(db *storage.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create validates the spec and persists a new pending task.
//
// Description:
//
//	Assigns a UUID identifier and a per-project monotonic sequence number
//	(the priority tie-breaker), applies defaults, and writes the record
//	in one transaction.
//
// Outputs:
//
//	*Task - The created task with status pending.
//	error - ErrInvalidSpec (wrapped with the reason) on validation failure.
func (s *Store) Create(ctx context.Context, spec Spec) (*Task, error) {
	if spec.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidSpec)
	}
	if spec.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSpec)
	}
	if spec.Priority == "" {
		spec.Priority = PriorityMedium
	}
	if !spec.Priority.IsValid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidSpec, spec.Priority)
	}
	if spec.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidSpec)
	}
	if spec.MaxRetries == 0 {
		spec.MaxRetries = DefaultMaxRetries
	}

	t := &Task{
		ID:          uuid.NewString(),
		ProjectID:   spec.ProjectID,
		Title:       spec.Title,
		Description: spec.Description,
		Type:        spec.Type,
		Priority:    spec.Priority,
		Status:      StatusPending,
		CreatedAt:   time.Now().UnixMilli(),
		MaxRetries:  spec.MaxRetries,
		DependsOn:   append([]string(nil), spec.DependsOn...),
	}

	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		seq, err := nextSeq(txn, spec.ProjectID)
		if err != nil {
			return err
		}
		t.Seq = seq
		return storage.PutJSON(txn, taskKey(t.ProjectID, t.ID), t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("task created",
		slog.String("task_id", t.ID),
		slog.String("project_id", t.ProjectID),
		slog.String("priority", string(t.Priority)))
	return t, nil
}

func nextSeq(txn *badgerdb.Txn, projectID string) (int64, error) {
	var seq int64
	item, err := txn.Get([]byte(seqKey(projectID)))
	if err == nil {
		if verr := item.Value(func(val []byte) error {
			n, perr := strconv.ParseInt(string(val), 10, 64)
			if perr != nil {
				return perr
			}
			seq = n
			return nil
		}); verr != nil {
			return 0, fmt.Errorf("read task sequence: %w", verr)
		}
	} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, fmt.Errorf("read task sequence: %w", err)
	}

	seq++
	if err := txn.Set([]byte(seqKey(projectID)), []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, fmt.Errorf("write task sequence: %w", err)
	}
	return seq, nil
}

// Get returns the task with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, projectID, id string) (*Task, error) {
	var t Task
	err := s.db.View(ctx, func(txn *badgerdb.Txn) error {
		return storage.GetJSON(txn, taskKey(projectID, id), &t)
	})
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// List returns all tasks for the project in creation order.
func (s *Store) List(ctx context.Context, projectID string) ([]*Task, error) {
	var tasks []*Task
	err := s.db.View(ctx, func(txn *badgerdb.Txn) error {
		return listInTxn(txn, projectID, &tasks)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, nil
}

func listInTxn(txn *badgerdb.Txn, projectID string, out *[]*Task) error {
	return storage.ScanPrefix(txn, taskPrefix(projectID), func(key string, value []byte) error {
		var t Task
		if err := unmarshalTask(value, &t); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		*out = append(*out, &t)
		return nil
	})
}

// Start transitions a pending or retrying task to running.
//
// Description:
//
//	Enforces the dependency-gating invariant: the transition is rejected
//	with ErrDependenciesUnmet unless every id in DependsOn is completed
//	at this instant, checked inside the same transaction that flips the
//	status. StartedAt is recorded on the first start only, so retries
//	keep the original wall-clock span.
//
// Outputs:
//
//	*Task - The updated task.
//	error - ErrNotFound, ErrInvalidTransition, or ErrDependenciesUnmet.
func (s *Store) Start(ctx context.Context, projectID, id string) (*Task, error) {
	var t Task
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getTask(txn, projectID, id, &t); err != nil {
			return err
		}
		if t.Status != StatusPending && t.Status != StatusRetrying {
			return fmt.Errorf("start %s from %s: %w", id, t.Status, ErrInvalidTransition)
		}
		for _, dep := range t.DependsOn {
			var d Task
			if err := getTask(txn, projectID, dep, &d); err != nil {
				return fmt.Errorf("dependency %s: %w", dep, ErrDependenciesUnmet)
			}
			if d.Status != StatusCompleted {
				return fmt.Errorf("dependency %s is %s: %w", dep, d.Status, ErrDependenciesUnmet)
			}
		}
		t.Status = StatusRunning
		if t.StartedAt == 0 {
			t.StartedAt = time.Now().UnixMilli()
		}
		return storage.PutJSON(txn, taskKey(projectID, id), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Complete transitions a running task to completed with the given result.
func (s *Store) Complete(ctx context.Context, projectID, id string, result *Result) (*Task, error) {
	var t Task
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getTask(txn, projectID, id, &t); err != nil {
			return err
		}
		if t.Status != StatusRunning {
			return fmt.Errorf("complete %s from %s: %w", id, t.Status, ErrInvalidTransition)
		}
		t.Status = StatusCompleted
		t.Progress = 100
		t.CompletedAt = time.Now().UnixMilli()
		t.Result = result
		t.Error = ""
		if result != nil && result.Change != nil {
			t.VCSRef = result.Change.CommitSHA
		}
		return storage.PutJSON(txn, taskKey(projectID, id), &t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task completed",
		slog.String("task_id", id),
		slog.String("project_id", projectID),
		slog.Duration("duration", t.Duration()))
	return &t, nil
}

// Fail records a failed attempt on a running task.
//
// Description:
//
//	Increments the retry count. Below the bound the task returns to
//	retrying and stays eligible for NextReady; at the bound it becomes
//	failed (terminal) with CompletedAt set for the audit trail.
//
// Outputs:
//
//	*Task - The updated task; callers branch on Status.
//	error - ErrNotFound or ErrInvalidTransition.
func (s *Store) Fail(ctx context.Context, projectID, id, errMsg string) (*Task, error) {
	var t Task
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getTask(txn, projectID, id, &t); err != nil {
			return err
		}
		if t.Status != StatusRunning {
			return fmt.Errorf("fail %s from %s: %w", id, t.Status, ErrInvalidTransition)
		}
		t.RetryCount++
		t.Error = errMsg
		if t.RetryCount < t.MaxRetries {
			t.Status = StatusRetrying
		} else {
			t.Status = StatusFailed
			t.CompletedAt = time.Now().UnixMilli()
		}
		return storage.PutJSON(txn, taskKey(projectID, id), &t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("task attempt failed",
		slog.String("task_id", id),
		slog.Int("retry_count", t.RetryCount),
		slog.String("status", string(t.Status)),
		slog.String("error", errMsg))
	return &t, nil
}

// Skip abandons a pending task, recording the reason. Used when a
// dependency has permanently failed and the task can never run.
func (s *Store) Skip(ctx context.Context, projectID, id, reason string) (*Task, error) {
	var t Task
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getTask(txn, projectID, id, &t); err != nil {
			return err
		}
		if t.Status != StatusPending {
			return fmt.Errorf("skip %s from %s: %w", id, t.Status, ErrInvalidTransition)
		}
		t.Status = StatusSkipped
		t.Error = reason
		t.CompletedAt = time.Now().UnixMilli()
		return storage.PutJSON(txn, taskKey(projectID, id), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SkipDependents abandons every pending task that transitively depends on
// failedID.
//
// Description:
//
//	Propagates a permanent failure: a task whose dependency can never
//	complete is marked skipped with the blocking task id in its error
//	string, in one transaction so a crash cannot leave a half-propagated
//	cascade.
//
// Outputs:
//
//	[]string - Ids of the tasks that were skipped, in creation order.
//	error - Non-nil on storage failure.
func (s *Store) SkipDependents(ctx context.Context, projectID, failedID string) ([]string, error) {
	var skipped []string
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		var tasks []*Task
		if err := listInTxn(txn, projectID, &tasks); err != nil {
			return err
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })

		dead := map[string]bool{failedID: true}
		now := time.Now().UnixMilli()

		// Tasks are sorted by creation order and dependencies reference
		// earlier tasks, so one forward pass closes the transitive set.
		// A second pass catches forward references from out-of-order
		// planners.
		for pass := 0; pass < 2; pass++ {
			for _, t := range tasks {
				if t.Status != StatusPending || dead[t.ID] {
					continue
				}
				for _, dep := range t.DependsOn {
					if !dead[dep] {
						continue
					}
					t.Status = StatusSkipped
					t.Error = fmt.Sprintf("dependency %s failed", failedID)
					t.CompletedAt = now
					dead[t.ID] = true
					skipped = append(skipped, t.ID)
					if err := storage.PutJSON(txn, taskKey(projectID, t.ID), t); err != nil {
						return err
					}
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(skipped) > 0 {
		s.logger.Warn("skipped dependents of failed task",
			slog.String("task_id", failedID),
			slog.Int("count", len(skipped)))
	}
	return skipped, nil
}

// Requeue returns tasks stranded in running to the eligible set.
//
// Description:
//
//	A process killed mid-task leaves its task running in storage with
//	nothing driving it. Called when a run opens, this flips such tasks
//	back to pending (or retrying when attempts were already spent) so
//	NextReady sees them again. StartedAt and RetryCount are preserved.
//
// Outputs:
//
//	[]string - Ids of the requeued tasks.
//	error - Non-nil on storage failure.
func (s *Store) Requeue(ctx context.Context, projectID string) ([]string, error) {
	var requeued []string
	err := s.db.Update(ctx, func(txn *badgerdb.Txn) error {
		var tasks []*Task
		if err := listInTxn(txn, projectID, &tasks); err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status != StatusRunning {
				continue
			}
			if t.RetryCount > 0 {
				t.Status = StatusRetrying
			} else {
				t.Status = StatusPending
			}
			requeued = append(requeued, t.ID)
			if err := storage.PutJSON(txn, taskKey(projectID, t.ID), t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(requeued) > 0 {
		s.logger.Info("requeued interrupted tasks",
			slog.String("project_id", projectID),
			slog.Int("count", len(requeued)))
	}
	return requeued, nil
}

// NextReady selects the next task eligible to run.
//
// Description:
//
//	Among pending and retrying tasks whose dependencies are all
//	completed, returns the one with the highest priority, ties broken by
//	creation order. The two empty outcomes are distinct: ErrDrained
//	means the backlog has no pending or retrying tasks left, while
//	ErrNoneReady means work remains but every candidate is blocked — the
//	caller decides whether that is "wait" or "deadlock".
func (s *Store) NextReady(ctx context.Context, projectID string) (*Task, error) {
	tasks, err := s.List(ctx, projectID)
	if err != nil {
		return nil, err
	}

	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			completed[t.ID] = true
		}
	}

	var best *Task
	waiting := 0
	for _, t := range tasks {
		if t.Status != StatusPending && t.Status != StatusRetrying {
			continue
		}
		waiting++
		ready := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if best == nil || t.Priority.Weight() > best.Priority.Weight() {
			best = t
		}
	}

	if best != nil {
		return best, nil
	}
	if waiting == 0 {
		return nil, ErrDrained
	}
	return nil, ErrNoneReady
}

// Statistics summarizes the project backlog: counts per status, the mean
// duration of completed tasks, and ETA = remaining × mean duration.
func (s *Store) Statistics(ctx context.Context, projectID string) (Stats, error) {
	tasks, err := s.List(ctx, projectID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:    len(tasks),
		ByStatus: make(map[Status]int),
	}

	var totalDur time.Duration
	completed := 0
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		if t.Status == StatusCompleted {
			completed++
			totalDur += t.Duration()
		}
		if !t.Status.IsTerminal() {
			stats.Remaining++
		}
	}
	if completed > 0 {
		stats.AverageDuration = totalDur / time.Duration(completed)
	}
	stats.ETA = time.Duration(stats.Remaining) * stats.AverageDuration
	return stats, nil
}

func getTask(txn *badgerdb.Txn, projectID, id string, out *Task) error {
	if err := storage.GetJSON(txn, taskKey(projectID, id), out); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}

func unmarshalTask(data []byte, out *Task) error {
	return json.Unmarshal(data, out)
}
