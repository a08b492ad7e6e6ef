// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caldera.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadFull verifies a fully specified file round-trips.
func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
project_id: proj
root: /srv/proj
data_dir: /var/lib/caldera/proj
log_level: debug
api_addr: 127.0.0.1:9000
graph:
  watch: true
  concurrency: 4
proposer:
  model: gpt-4o
  max_attempts: 5
  per_call_timeout: 30s
validator:
  command: ["go", "build", "./..."]
  timeout: 2m
executor:
  max_context_files: 20
  checkpoint_every: 1
  max_retries: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProjectID != "proj" || cfg.Root != "/srv/proj" {
		t.Fatalf("identity fields = %q, %q", cfg.ProjectID, cfg.Root)
	}
	if cfg.LogLevel != "debug" || cfg.APIAddr != "127.0.0.1:9000" {
		t.Fatalf("log_level = %q, api_addr = %q", cfg.LogLevel, cfg.APIAddr)
	}
	if !cfg.Graph.Watch || cfg.Graph.Concurrency != 4 {
		t.Fatalf("graph = %+v", cfg.Graph)
	}
	if cfg.Proposer.Model != "gpt-4o" || cfg.Proposer.PerCallTimeout.Std() != 30*time.Second {
		t.Fatalf("proposer = %+v", cfg.Proposer)
	}
	if len(cfg.Validator.Command) != 3 || cfg.Validator.Timeout.Std() != 2*time.Minute {
		t.Fatalf("validator = %+v", cfg.Validator)
	}
	if cfg.Executor.MaxRetries != 5 || cfg.Executor.CheckpointEvery != 1 {
		t.Fatalf("executor = %+v", cfg.Executor)
	}
}

// TestLoadDefaults verifies unset fields fall back to defaults.
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "project_id: proj\nroot: /srv/proj\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.APIAddr != "127.0.0.1:8750" {
		t.Errorf("api_addr = %q", cfg.APIAddr)
	}
	if cfg.Executor.MaxContextFiles != 10 || cfg.Executor.CheckpointEvery != 5 || cfg.Executor.MaxRetries != 3 {
		t.Errorf("executor defaults = %+v", cfg.Executor)
	}
	if !strings.Contains(cfg.DataDir, ".caldera") || !strings.HasSuffix(cfg.DataDir, "proj") {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
}

// TestLoadInvalid verifies validation failures return ErrInvalidConfig.
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing project", "root: /srv/proj\n"},
		{"missing root", "project_id: proj\n"},
		{"relative root", "project_id: proj\nroot: ./proj\n"},
		{"bad log level", "project_id: proj\nroot: /srv/proj\nlog_level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

// TestDurationParseError verifies malformed duration scalars fail the
// load with the offending value in the error.
func TestDurationParseError(t *testing.T) {
	path := writeConfig(t, "project_id: proj\nroot: /srv/proj\nvalidator:\n  timeout: fast\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "fast") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

// TestLoadMalformedYAML verifies parse errors carry the file path.
func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "project_id: [unclosed\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected parse error naming %s, got %v", path, err)
	}
}

// TestLoadMissingFile verifies a helpful read error.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
