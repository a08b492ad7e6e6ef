// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestCommandValidatorPass verifies exit 0 is a pass verdict.
func TestCommandValidatorPass(t *testing.T) {
	v, err := NewCommandValidator(CommandConfig{Command: []string{"true"}}, nil)
	if err != nil {
		t.Fatalf("NewCommandValidator: %v", err)
	}

	result, err := v.Validate(context.Background(), []string{"a.go"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Pass || result.Diagnostics != "" {
		t.Fatalf("result = %+v", result)
	}
}

// TestCommandValidatorFail verifies a non-zero exit is a fail verdict with
// diagnostics, not an error.
func TestCommandValidatorFail(t *testing.T) {
	v, err := NewCommandValidator(CommandConfig{
		Command: []string{"sh", "-c", "echo type error in a.go; exit 1"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("exit 1 must be a verdict, got error %v", err)
	}
	if result.Pass {
		t.Fatal("expected fail verdict")
	}
	if !strings.Contains(result.Diagnostics, "type error in a.go") {
		t.Fatalf("diagnostics = %q", result.Diagnostics)
	}
}

// TestCommandValidatorPassPaths verifies changed paths reach the command.
func TestCommandValidatorPassPaths(t *testing.T) {
	v, err := NewCommandValidator(CommandConfig{
		Command:   []string{"sh", "-c", `echo "$@"; exit 1`, "check"},
		PassPaths: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.Validate(context.Background(), []string{"x.go", "y.go"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Diagnostics, "x.go y.go") {
		t.Fatalf("paths not forwarded: %q", result.Diagnostics)
	}
}

// TestCommandValidatorMissingBinary verifies an unrunnable command is an
// infra error, not a verdict.
func TestCommandValidatorMissingBinary(t *testing.T) {
	v, err := NewCommandValidator(CommandConfig{
		Command: []string{"definitely-not-a-real-binary-1f2e3d"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Validate(context.Background(), nil); err == nil {
		t.Fatal("expected infra error")
	}
}

// TestCommandValidatorTimeout verifies a hang becomes a fail verdict so
// the loop can self-correct.
func TestCommandValidatorTimeout(t *testing.T) {
	v, err := NewCommandValidator(CommandConfig{
		Command: []string{"sleep", "5"},
		Timeout: 50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("timeout must be a verdict, got error %v", err)
	}
	if result.Pass || !strings.Contains(result.Diagnostics, "timed out") {
		t.Fatalf("result = %+v", result)
	}
}

// TestNewCommandValidatorRequiresCommand verifies the config contract.
func TestNewCommandValidatorRequiresCommand(t *testing.T) {
	if _, err := NewCommandValidator(CommandConfig{}, nil); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
}

// TestNoop verifies the dry-run validator passes everything.
func TestNoop(t *testing.T) {
	result, err := Noop{}.Validate(context.Background(), []string{"anything"})
	if err != nil || !result.Pass {
		t.Fatalf("result = %+v, %v", result, err)
	}
}
