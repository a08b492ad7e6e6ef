// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the agent's YAML configuration.
//
// Secrets never live in the file: the OpenAI API key comes from the
// environment or the container secret path (see the proposer package).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration that unmarshals from YAML scalars in
// time.ParseDuration syntax ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GraphConfig configures knowledge graph builds.
type GraphConfig struct {
	// IgnoreDirs overrides the default ignore set when non-empty.
	IgnoreDirs []string `yaml:"ignore_dirs,omitempty"`

	// MaxFileSizeBytes caps scanned file size. Default 1 MiB.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes,omitempty"`

	// Concurrency bounds parallel file scans. Default 8.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Watch enables the filesystem staleness watcher.
	Watch bool `yaml:"watch,omitempty"`
}

// ProposerConfig configures the change proposer client.
type ProposerConfig struct {
	Model             string  `yaml:"model,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	MaxOutputTokens   int     `yaml:"max_output_tokens,omitempty"`

	// MaxAttempts / backoff bound transient-failure retries per call.
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	InitialBackoff Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     Duration `yaml:"max_backoff,omitempty"`
	MaxElapsed     Duration `yaml:"max_elapsed,omitempty"`
	PerCallTimeout Duration `yaml:"per_call_timeout,omitempty"`
}

// ValidatorConfig configures the validation command.
type ValidatorConfig struct {
	// Command is the validation program and arguments, e.g.
	// ["go", "build", "./..."]. Empty means validation always passes
	// (dry-run projects).
	Command []string `yaml:"command,omitempty"`

	Timeout   Duration `yaml:"timeout,omitempty"`
	PassPaths bool     `yaml:"pass_paths,omitempty"`
}

// ExecutorConfig configures the run loop.
type ExecutorConfig struct {
	MaxContextFiles int `yaml:"max_context_files,omitempty"`
	CheckpointEvery int `yaml:"checkpoint_every,omitempty"`

	// MaxRetries is the default self-correction bound stamped on tasks
	// created without one.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Config is the full agent configuration.
type Config struct {
	// ProjectID scopes all persisted state. Required.
	ProjectID string `yaml:"project_id"`

	// Root is the project working tree. Required; must be absolute.
	Root string `yaml:"root"`

	// DataDir holds the embedded store. Default: ~/.caldera/<project_id>.
	DataDir string `yaml:"data_dir,omitempty"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level,omitempty"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir,omitempty"`

	// APIAddr is the status API listen address. Default: 127.0.0.1:8750.
	APIAddr string `yaml:"api_addr,omitempty"`

	// Tracing enables OpenTelemetry stdout span export.
	Tracing bool `yaml:"tracing,omitempty"`

	Graph     GraphConfig     `yaml:"graph,omitempty"`
	Proposer  ProposerConfig  `yaml:"proposer,omitempty"`
	Validator ValidatorConfig `yaml:"validator,omitempty"`
	Executor  ExecutorConfig  `yaml:"executor,omitempty"`
}

// Default returns the baseline configuration. ProjectID and Root still
// need to be filled in.
func Default() Config {
	return Config{
		LogLevel: "info",
		APIAddr:  "127.0.0.1:8750",
		Executor: ExecutorConfig{
			MaxContextFiles: 10,
			CheckpointEvery: 5,
			MaxRetries:      3,
		},
	}
}

// Load reads and validates a YAML configuration file, applying defaults
// for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" && c.ProjectID != "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".caldera", c.ProjectID)
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.APIAddr == "" {
		c.APIAddr = "127.0.0.1:8750"
	}
	if c.Executor.MaxContextFiles <= 0 {
		c.Executor.MaxContextFiles = 10
	}
	if c.Executor.CheckpointEvery <= 0 {
		c.Executor.CheckpointEvery = 5
	}
	if c.Executor.MaxRetries <= 0 {
		c.Executor.MaxRetries = 3
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalidConfig)
	}
	if c.Root == "" {
		return fmt.Errorf("%w: root is required", ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("%w: root must be an absolute path", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir could not be derived", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Proposer.MaxAttempts < 0 || c.Executor.MaxRetries < 0 {
		return fmt.Errorf("%w: retry bounds must be >= 0", ErrInvalidConfig)
	}
	return nil
}
