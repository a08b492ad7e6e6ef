// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Caldera components.
//
// Built on the standard library slog package with two destinations:
//
//   - stderr, always on: human-readable text when stderr is a terminal,
//     JSON otherwise (so piped output stays machine-parsable)
//   - an optional JSON log file, one per service per day, when LogDir
//     is configured
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.caldera/logs",
//	    Service: "agent",
//	})
//	defer logger.Close()
//	logger.Info("task started", "task_id", id)
//
// # Thread Safety
//
// Logger is safe for concurrent use.
//
// # Security
//
// Nothing is redacted automatically. Callers must not log secrets;
// prefer presence booleans ("key_present", key != "") over values.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a config string to a Level. Unknown strings map
// to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// LogDir enables file logging when non-empty. Supports ~ expansion.
	LogDir string

	// Service names the component; used in the log file name and
	// attached to every record.
	Service string
}

// Logger wraps slog with multi-destination output and file lifecycle.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a logger from config.
//
// Description:
//
//	Always logs to stderr. When LogDir is set, also appends JSON
//	records to {service}_{date}.log inside it, creating the directory
//	as needed. File setup failures degrade to stderr-only with a
//	warning rather than failing the caller.
func New(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "caldera"
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var stderrHandler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := &Logger{}
	handlers := []slog.Handler{stderrHandler}

	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		} else {
			fmt.Fprintf(os.Stderr, "logging: file sink disabled: %v\n", err)
		}
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = fanout(handlers)
	}
	logger.Logger = slog.New(h).With(slog.String("service", cfg.Service))
	return logger
}

// Default returns a stderr-only logger at info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Close flushes and closes the log file, if any. Safe to call multiple
// times.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", dir, err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
}

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func fanout(handlers []slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
