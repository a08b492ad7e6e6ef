// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposer

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// TestParseResponse verifies the JSON contract, including fenced output.
func TestParseResponse(t *testing.T) {
	valid := `{"edits":[{"action":"create","path":"a.go","content":"package a\n"}],"summary":"add a"}`

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain object", valid, false},
		{"json fence", "```json\n" + valid + "\n```", false},
		{"bare fence", "```\n" + valid + "\n```", false},
		{"not json", "sorry, I cannot do that", true},
		{"no edits", `{"edits":[],"summary":"nothing"}`, true},
		{"edit without path", `{"edits":[{"action":"create","content":"x"}]}`, true},
		{"create without content", `{"edits":[{"action":"create","path":"a.go"}]}`, true},
		{"modify without content or patch", `{"edits":[{"action":"modify","path":"a.go"}]}`, true},
		{"unknown action", `{"edits":[{"action":"delete","path":"a.go"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseResponse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseResponse: %v", err)
			}
			if len(resp.Edits) != 1 || resp.Edits[0].Path != "a.go" {
				t.Fatalf("edits = %+v", resp.Edits)
			}
			if resp.Summary != "add a" {
				t.Fatalf("summary = %q", resp.Summary)
			}
		})
	}
}

// TestParseResponseModifyWithPatch verifies patch-only modify edits pass.
func TestParseResponseModifyWithPatch(t *testing.T) {
	raw := `{"edits":[{"action":"modify","path":"a.go","patch":"--- a/a.go\n+++ b/a.go\n"}],"summary":"s"}`
	resp, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Edits[0].Patch == "" {
		t.Fatal("patch lost in parsing")
	}
}

// TestValidateRequest verifies the request contract.
func TestValidateRequest(t *testing.T) {
	err := validateRequest(Request{})
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
	err = validateRequest(Request{Task: TaskContext{ID: "t1", Title: "do it"}})
	if err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

// TestBuildPrompt verifies task, files, and feedback all land in the
// prompt.
func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(Request{
		Task:     TaskContext{ID: "t1", Title: "rename helper", Description: "see notes", Type: "refactor"},
		Files:    map[string]string{"lib/a.go": "package lib\n"},
		Feedback: "build failed: undefined symbol",
	})

	for _, want := range []string{"t1", "rename helper", "see notes", "lib/a.go", "package lib", "undefined symbol"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	empty := buildPrompt(Request{Task: TaskContext{ID: "t1", Title: "new file"}})
	if !strings.Contains(empty, "no existing files") {
		t.Error("empty context not flagged in prompt")
	}
}

// TestIsRetryable verifies the transient/permanent taxonomy.
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"missing config", ErrMissingConfig, false},
		{"malformed request", ErrMalformedRequest, false},
		{"rate limited", ErrRateLimited, true},
		{"unavailable", ErrUnavailable, true},
		{"malformed response", ErrMalformedResponse, true},
		{"deadline", context.DeadlineExceeded, true},
		{"api 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"api 503", &openai.APIError{HTTPStatusCode: 503}, true},
		{"api 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestNewOpenAIResolvesKey verifies explicit and environment key sources.
func TestNewOpenAIResolvesKey(t *testing.T) {
	p, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"}, nil)
	if err != nil {
		t.Fatalf("explicit key rejected: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Fatalf("model = %q", p.model)
	}

	t.Setenv("OPENAI_API_KEY", "sk-env")
	if _, err := NewOpenAI(OpenAIConfig{}, nil); err != nil {
		t.Fatalf("environment key rejected: %v", err)
	}
}

// TestNewOpenAIMissingKey verifies a missing key is a permanent config
// error.
func TestNewOpenAIMissingKey(t *testing.T) {
	if _, err := os.Stat("/run/secrets/openai_api_key"); err == nil {
		t.Skip("container secret present")
	}
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAI(OpenAIConfig{}, nil)
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
}
