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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const systemPrompt = `You are a code-change proposer inside an autonomous agent.
Given a task and the current content of the relevant files, respond with a
single JSON object and nothing else:

{"edits":[{"action":"create|modify","path":"relative/path","content":"full file content"}],"summary":"one line"}

Rules:
- "create" requires full content for a file that does not exist yet.
- "modify" requires the complete replacement content of an existing file.
- Only touch files listed in the context.
- If feedback from a failed validation is present, fix exactly what it reports.`

// OpenAIConfig configures the production proposer.
type OpenAIConfig struct {
	// APIKey authenticates against the API. When empty, NewOpenAI falls
	// back to OPENAI_API_KEY and then the container secret path.
	APIKey string

	// Model names the chat model. Default: gpt-4o-mini.
	Model string

	// BaseURL overrides the API endpoint for compatible local servers.
	BaseURL string

	// RequestsPerSecond caps the client-side call rate. Default: 1.
	RequestsPerSecond float64

	// MaxOutputTokens bounds each completion. Default: 8192.
	MaxOutputTokens int
}

// OpenAI is the production Change Proposer backed by a chat model.
//
// # Thread Safety
//
// Safe for concurrent use; the rate limiter serializes bursts.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	maxTok  int
	logger  *slog.Logger
}

// NewOpenAI creates the production proposer.
//
// Description:
//
//	Resolves the API key from config, then the OPENAI_API_KEY
//	environment variable, then the conventional container secret path.
//	A missing key is a permanent configuration error — the retry layer
//	will not mask it.
//
// Outputs:
//
//	*OpenAI - Ready-to-use proposer.
//	error - ErrMissingConfig when no API key can be resolved.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key", ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
		logger.Warn("proposer model not set, defaulting", slog.String("model", model))
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	maxTok := cfg.MaxOutputTokens
	if maxTok <= 0 {
		maxTok = 8192
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		maxTok:  maxTok,
		logger:  logger,
	}, nil
}

// Propose implements the Proposer contract.
func (o *OpenAI) Propose(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o.logger.Debug("proposing change",
		slog.String("task_id", req.Task.ID),
		slog.Int("files", len(req.Files)),
		slog.Bool("correction", req.Feedback != ""))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		MaxCompletionTokens: o.maxTok,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return parseResponse(resp.Choices[0].Message.Content)
}

func validateRequest(req Request) error {
	if req.Task.ID == "" || req.Task.Title == "" {
		return fmt.Errorf("%w: task id and title are required", ErrMalformedRequest)
	}
	return nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", req.Task.ID, req.Task.Title)
	if req.Task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Task.Description)
	}
	if req.Task.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", req.Task.Type)
	}

	b.WriteString("\nFile context:\n")
	if len(req.Files) == 0 {
		b.WriteString("(no existing files; propose create edits)\n")
	}
	for path, content := range req.Files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", path, content)
	}

	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed validation:\n%s\n", req.Feedback)
	}
	return b.String()
}

func parseResponse(raw string) (*Response, error) {
	// Models occasionally fence the JSON despite instructions.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out Response
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Edits) == 0 {
		return nil, fmt.Errorf("%w: no edits", ErrMalformedResponse)
	}
	for _, e := range out.Edits {
		if e.Path == "" {
			return nil, fmt.Errorf("%w: edit without path", ErrMalformedResponse)
		}
		switch e.Action {
		case ActionCreate:
			if e.Content == "" {
				return nil, fmt.Errorf("%w: create %s without content", ErrMalformedResponse, e.Path)
			}
		case ActionModify:
			if e.Content == "" && e.Patch == "" {
				return nil, fmt.Errorf("%w: modify %s without content or patch", ErrMalformedResponse, e.Path)
			}
		default:
			return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, e.Action)
		}
	}
	return &out, nil
}
