// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
)

func sessionKey(projectID, id string) string {
	return "session/" + projectID + "/" + id
}

func sessionPrefix(projectID string) string {
	return "session/" + projectID + "/"
}

func activeKey(projectID string) string {
	return "sessionactive/" + projectID
}

// Manager is the durable session and checkpoint store.
type Manager struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewManager creates a session manager over the given database.
func NewManager(db *storage.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, logger: logger}
}

// Create starts a new session record for a run of totalTasks tasks.
//
// Description:
//
//	Enforces the one-active-session invariant: if the project's active
//	pointer names a session that is still resumable, creation fails with
//	ErrActiveSession. The check, the new record, and the active pointer
//	update happen in one transaction.
func (m *Manager) Create(ctx context.Context, projectID string, totalTasks int) (*Session, error) {
	if projectID == "" {
		return nil, errors.New("project_id is required")
	}
	if totalTasks < 0 {
		return nil, errors.New("total_tasks must be >= 0")
	}

	now := time.Now().UnixMilli()
	sess := &Session{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Status:     StatusCreated,
		TotalTasks: totalTasks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := m.db.Update(ctx, func(txn *badgerdb.Txn) error {
		var activeID string
		item, err := txn.Get([]byte(activeKey(projectID)))
		if err == nil {
			if verr := item.Value(func(val []byte) error {
				activeID = string(val)
				return nil
			}); verr != nil {
				return verr
			}
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("read active session pointer: %w", err)
		}

		if activeID != "" {
			var prev Session
			if err := storage.GetJSON(txn, sessionKey(projectID, activeID), &prev); err == nil {
				if prev.Status.Resumable() {
					return fmt.Errorf("session %s is %s: %w", prev.ID, prev.Status, ErrActiveSession)
				}
			}
			// Stale pointer to a finished or deleted session; overwrite.
		}

		if err := txn.Set([]byte(activeKey(projectID)), []byte(sess.ID)); err != nil {
			return fmt.Errorf("write active session pointer: %w", err)
		}
		return storage.PutJSON(txn, sessionKey(projectID, sess.ID), sess)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("project_id", projectID),
		slog.Int("total_tasks", totalTasks))
	return sess, nil
}

// Get returns the session with the given id, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, projectID, id string) (*Session, error) {
	var sess Session
	err := m.db.View(ctx, func(txn *badgerdb.Txn) error {
		return getSession(txn, projectID, id, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns all sessions for the project, most recently updated first.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Session, error) {
	var sessions []*Session
	err := m.db.View(ctx, func(txn *badgerdb.Txn) error {
		return storage.ScanPrefix(txn, sessionPrefix(projectID), func(key string, value []byte) error {
			var sess Session
			if err := json.Unmarshal(value, &sess); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt > sessions[j].UpdatedAt })
	return sessions, nil
}

// Start transitions created → running.
func (m *Manager) Start(ctx context.Context, projectID, id string) (*Session, error) {
	return m.transition(ctx, projectID, id, StatusRunning, StatusCreated)
}

// Pause transitions running → paused, preserving all progress fields.
func (m *Manager) Pause(ctx context.Context, projectID, id string) (*Session, error) {
	return m.transition(ctx, projectID, id, StatusPaused, StatusRunning)
}

// Resume transitions paused → running.
func (m *Manager) Resume(ctx context.Context, projectID, id string) (*Session, error) {
	return m.transition(ctx, projectID, id, StatusRunning, StatusPaused)
}

func (m *Manager) transition(ctx context.Context, projectID, id string, to Status, from ...Status) (*Session, error) {
	var sess Session
	err := m.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getSession(txn, projectID, id, &sess); err != nil {
			return err
		}
		ok := false
		for _, f := range from {
			if sess.Status == f {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("session %s: %s → %s: %w", id, sess.Status, to, ErrInvalidTransition)
		}
		sess.Status = to
		sess.UpdatedAt = time.Now().UnixMilli()
		return storage.PutJSON(txn, sessionKey(projectID, id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Complete transitions a running or paused session to completed and
// clears the project's active pointer.
func (m *Manager) Complete(ctx context.Context, projectID, id, summary string) (*Session, error) {
	return m.finish(ctx, projectID, id, StatusCompleted, summary, "")
}

// Fail transitions a running, paused, or created session to failed and
// clears the project's active pointer. Used for run-level errors such as
// a knowledge graph build failure at startup.
func (m *Manager) Fail(ctx context.Context, projectID, id, errMsg string) (*Session, error) {
	return m.finish(ctx, projectID, id, StatusFailed, "", errMsg)
}

func (m *Manager) finish(ctx context.Context, projectID, id string, to Status, summary, errMsg string) (*Session, error) {
	var sess Session
	err := m.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getSession(txn, projectID, id, &sess); err != nil {
			return err
		}
		if !sess.Status.Resumable() {
			return fmt.Errorf("session %s: %s → %s: %w", id, sess.Status, to, ErrInvalidTransition)
		}
		if to == StatusCompleted && sess.Status == StatusCreated {
			return fmt.Errorf("session %s: created → completed: %w", id, ErrInvalidTransition)
		}
		sess.Status = to
		sess.Summary = summary
		sess.Error = errMsg
		sess.CurrentTaskID = ""
		sess.UpdatedAt = time.Now().UnixMilli()
		if err := storage.PutJSON(txn, sessionKey(projectID, id), &sess); err != nil {
			return err
		}
		return txn.Delete([]byte(activeKey(projectID)))
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("session finished",
		slog.String("session_id", id),
		slog.String("status", string(to)),
		slog.Int("completed", sess.CompletedTasks),
		slog.Int("failed", sess.FailedTasks))
	return &sess, nil
}

// UpdateProgress applies one progress mutation to a running session.
//
// Description:
//
//	CurrentTaskID sets the in-flight pointer. CompletedTaskID and
//	FailedTaskID bump the respective counter, append to the id list, and
//	clear the pointer when it matches. The record is persisted before
//	returning, so progress is never batched in memory.
func (m *Manager) UpdateProgress(ctx context.Context, projectID, id string, p Progress) (*Session, error) {
	var sess Session
	err := m.db.Update(ctx, func(txn *badgerdb.Txn) error {
		if err := getSession(txn, projectID, id, &sess); err != nil {
			return err
		}
		if sess.Status != StatusRunning {
			return fmt.Errorf("progress on %s session %s: %w", sess.Status, id, ErrInvalidTransition)
		}

		switch {
		case p.CurrentTaskID != "":
			sess.CurrentTaskID = p.CurrentTaskID
		case p.CompletedTaskID != "":
			sess.CompletedTasks++
			sess.CompletedTaskIDs = append(sess.CompletedTaskIDs, p.CompletedTaskID)
			if sess.CurrentTaskID == p.CompletedTaskID {
				sess.CurrentTaskID = ""
			}
		case p.FailedTaskID != "":
			sess.FailedTasks++
			sess.FailedTaskIDs = append(sess.FailedTaskIDs, p.FailedTaskID)
			if sess.CurrentTaskID == p.FailedTaskID {
				sess.CurrentTaskID = ""
			}
		default:
			return errors.New("empty progress update")
		}

		sess.UpdatedAt = time.Now().UnixMilli()
		return storage.PutJSON(txn, sessionKey(projectID, id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Checkpoint appends an immutable snapshot to the session and returns its
// sequence index. Snapshots are never mutated after the append.
func (m *Manager) Checkpoint(ctx context.Context, projectID, id string, state any) (int, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal checkpoint state: %w", err)
	}

	var seq int
	err = m.db.Update(ctx, func(txn *badgerdb.Txn) error {
		var sess Session
		if err := getSession(txn, projectID, id, &sess); err != nil {
			return err
		}
		if !sess.Status.Resumable() {
			return fmt.Errorf("checkpoint on %s session %s: %w", sess.Status, id, ErrInvalidTransition)
		}
		seq = len(sess.Checkpoints) + 1
		sess.Checkpoints = append(sess.Checkpoints, Checkpoint{
			Seq:       seq,
			State:     raw,
			CreatedAt: time.Now().UnixMilli(),
		})
		sess.UpdatedAt = time.Now().UnixMilli()
		return storage.PutJSON(txn, sessionKey(projectID, id), &sess)
	})
	if err != nil {
		return 0, err
	}

	m.logger.Debug("checkpoint recorded",
		slog.String("session_id", id),
		slog.Int("seq", seq))
	return seq, nil
}

// ResumePoint returns the most recently updated paused or running session
// for the project, or ErrNoResumePoint. Calling it twice without an
// intervening mutation returns the same session.
func (m *Manager) ResumePoint(ctx context.Context, projectID string) (*Session, error) {
	sessions, err := m.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.Status == StatusPaused || sess.Status == StatusRunning {
			return sess, nil
		}
	}
	return nil, ErrNoResumePoint
}

func getSession(txn *badgerdb.Txn, projectID, id string, out *Session) error {
	if err := storage.GetJSON(txn, sessionKey(projectID, id), out); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}
