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
	"fmt"
	"math/rand"
	"time"
)

// ErrInvalidRetryConfig indicates a retry configuration that fails
// validation.
var ErrInvalidRetryConfig = errors.New("invalid retry config")

// ErrRetryBudgetExhausted indicates the elapsed-time budget ran out
// before the attempt budget did.
var ErrRetryBudgetExhausted = errors.New("retry elapsed budget exhausted")

// RetryConfig configures retry behavior for proposer calls.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the first retry. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries. Default: 30s
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier. Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the backoff
	// (0-1), spreading retries out. Default: 0.2
	JitterFactor float64

	// MaxElapsed bounds total wall-clock time across all attempts and
	// waits. Zero means no elapsed bound. Default: 2m
	MaxElapsed time.Duration

	// PerCallTimeout bounds each individual attempt. Zero means no
	// per-call timeout. Default: 60s
	PerCallTimeout time.Duration
}

// DefaultRetryConfig returns sensible defaults for calls against a
// remote proposer.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
		MaxElapsed:     2 * time.Minute,
		PerCallTimeout: 60 * time.Second,
	}
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1", ErrInvalidRetryConfig)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff must be positive", ErrInvalidRetryConfig)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max backoff must be >= initial backoff", ErrInvalidRetryConfig)
	}
	if c.BackoffFactor < 1.0 {
		return fmt.Errorf("%w: backoff factor must be >= 1", ErrInvalidRetryConfig)
	}
	return nil
}

// RetryResult contains the outcome of a retry operation.
type RetryResult struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// RetryableFunc is one attempt. It receives a context already bounded by
// PerCallTimeout.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry executes fn with exponential backoff and jitter.
//
// Description:
//
//	Retries only errors IsRetryable classifies as transient; permanent
//	errors return immediately. Two independent budgets bound the
//	operation: MaxAttempts, and MaxElapsed wall-clock time (checked
//	before each wait and each attempt).
//
// Outputs:
//
//	RetryResult - Attempt statistics regardless of outcome.
//	error - The last error if all attempts failed, nil on success.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryResult, error) {
	start := time.Now()
	result := RetryResult{}

	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}
		if config.MaxElapsed > 0 && time.Since(start) > config.MaxElapsed {
			result.LastError = ErrRetryBudgetExhausted
			result.TotalDuration = time.Since(start)
			return result, ErrRetryBudgetExhausted
		}

		err := runAttempt(ctx, config.PerCallTimeout, attempt, fn)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !IsRetryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		waitTime := withJitter(backoff, config.JitterFactor)
		if config.MaxElapsed > 0 && time.Since(start)+waitTime > config.MaxElapsed {
			result.TotalDuration = time.Since(start)
			return result, ErrRetryBudgetExhausted
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(waitTime):
		}

		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn RetryableFunc) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx, attempt)
}

// withJitter spreads the wait into [base*(1-jitter), base*(1+jitter)].
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
