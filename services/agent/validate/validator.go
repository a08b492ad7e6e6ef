// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate defines the pluggable validation contract that gates
// every staged change before it reaches the real tree.
//
// A Validator is a black box: type-check, build, lint, test — the
// execution loop only cares about pass/fail plus diagnostic text it can
// feed back to the proposer. A Result with Pass=false is the normal
// self-correction signal; an error return means the validator itself
// could not run.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrNoCommand indicates a command validator configured without one.
var ErrNoCommand = errors.New("validator command is required")

// Result is the validator output contract.
type Result struct {
	// Pass reports whether the staged change is acceptable.
	Pass bool `json:"pass"`

	// Diagnostics carries the failure output fed back to the proposer.
	// Empty on pass.
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Validator checks a set of changed paths.
type Validator interface {
	Validate(ctx context.Context, changed []string) (Result, error)
}

// CommandConfig configures a CommandValidator.
type CommandConfig struct {
	// Command is the program and its arguments, e.g.
	// ["npx", "tsc", "--noEmit"] or ["go", "build", "./..."].
	Command []string

	// Dir is the working directory, typically the project root.
	Dir string

	// Timeout bounds one validation run. Default: 5m.
	Timeout time.Duration

	// PassPaths appends the changed paths to the command arguments.
	PassPaths bool
}

// CommandValidator validates by running a project-specific command and
// interpreting a non-zero exit as a validation failure.
type CommandValidator struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommandValidator creates a command validator.
func NewCommandValidator(cfg CommandConfig, logger *slog.Logger) (*CommandValidator, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandValidator{cfg: cfg, logger: logger}, nil
}

// Validate runs the configured command.
//
// Outputs:
//
//	Result - Pass on exit 0; otherwise fail with the combined output as
//	         diagnostics.
//	error - Non-nil only when the command could not run at all (missing
//	        binary, context cancelled) — an infra error, not a
//	        validation verdict.
func (v *CommandValidator) Validate(ctx context.Context, changed []string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	args := append([]string(nil), v.cfg.Command[1:]...)
	if v.cfg.PassPaths {
		args = append(args, changed...)
	}

	cmd := exec.CommandContext(runCtx, v.cfg.Command[0], args...)
	cmd.Dir = v.cfg.Dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		v.logger.Debug("validation passed",
			slog.Int("changed", len(changed)),
			slog.Duration("elapsed", elapsed))
		return Result{Pass: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		v.logger.Debug("validation failed",
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.Duration("elapsed", elapsed))
		return Result{Pass: false, Diagnostics: out.String()}, nil
	}
	if runCtx.Err() != nil {
		// Timed-out validators produce a fail verdict with whatever
		// output accumulated; the proposer can often fix a hang.
		return Result{Pass: false, Diagnostics: fmt.Sprintf("validation timed out after %s\n%s", v.cfg.Timeout, out.String())}, nil
	}
	return Result{}, fmt.Errorf("run validator: %w", err)
}

// Noop is a validator that passes everything. Used for dry runs and in
// tests that exercise the loop without a toolchain.
type Noop struct{}

// Validate always passes.
func (Noop) Validate(ctx context.Context, changed []string) (Result, error) {
	return Result{Pass: true}, nil
}
