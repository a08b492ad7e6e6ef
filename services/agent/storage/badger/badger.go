// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides the embedded key-value store backing Caldera's
// persisted state: task records, session records, and the knowledge graph.
//
// Every record is a standalone JSON document under a typed key prefix
// (task/<project>/<id>, session/<project>/<id>, graph/<project>). There is
// no shared transaction log; each mutation is one BadgerDB transaction so
// a crash between tasks never leaves partially written state.
//
// The store assumes a single writer process per project. Cross-process
// coordination is explicitly unsupported; BadgerDB's directory lock turns
// a second writer into a hard open error rather than silent corruption.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrKeyNotFound is returned by GetJSON when no document exists at the key.
// It wraps badger's own sentinel so callers never import the driver.
var ErrKeyNotFound = errors.New("key not found")

// Config holds configuration for the embedded store.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Used by tests and dry runs.
	InMemory bool

	// SyncWrites forces every commit to fsync. Default: true.
	// Resume-after-crash semantics depend on this; disable only in tests.
	SyncWrites bool

	// GCDiscardRatio is the minimum garbage ratio before a value log
	// rewrite. Default: 0.5.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal log output.
	// If nil, driver logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration: durable synchronous
// writes and a 50% GC discard threshold.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// driverLogger adapts slog.Logger to BadgerDB's Logger interface.
type driverLogger struct {
	logger *slog.Logger
}

func (l *driverLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *driverLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *driverLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *driverLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB instance with the document helpers the rest of the
// agent uses. All exported methods are safe for concurrent use.
type DB struct {
	db             *badger.DB
	path           string
	inMemory       bool
	gcDiscardRatio float64
}

// Open opens the store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, creating the
//	directory if needed, or in memory when InMemory is true.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the directory is locked
//	        by another process.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&driverLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ratio := cfg.GCDiscardRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}

	return &DB{
		db:             db,
		path:           cfg.Path,
		inMemory:       cfg.InMemory,
		gcDiscardRatio: ratio,
	}, nil
}

// Close closes the store. Safe to call once; pending transactions are
// discarded.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the store directory, or empty string for in-memory stores.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the store has no disk persistence.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Update executes fn inside a read-write transaction and commits if fn
// returns nil. The transaction is discarded on error.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View executes fn inside a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	txn := d.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// RunGC triggers one value log garbage collection pass. Returns nil when
// nothing needed rewriting. No-op for in-memory stores.
func (d *DB) RunGC() error {
	if d.inMemory {
		return nil
	}
	err := d.db.RunValueLogGC(d.gcDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("value log GC: %w", err)
	}
	return nil
}

// StartGC runs periodic garbage collection until ctx is cancelled.
// Call in a goroutine; returns when the context ends.
func (d *DB) StartGC(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if d.inMemory || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunGC(); err != nil && logger != nil {
				logger.Warn("store GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PutJSON marshals v and writes it at key inside txn.
func PutJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetJSON reads the document at key inside txn and unmarshals it into out.
// Returns ErrKeyNotFound when the key does not exist.
func GetJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, ErrKeyNotFound)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// ScanPrefix iterates all documents under prefix inside txn, calling fn
// with each raw value. Iteration stops on the first error.
func ScanPrefix(txn *badger.Txn, prefix string, fn func(key string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return fmt.Errorf("scan %s: %w", key, err)
		}
	}
	return nil
}
