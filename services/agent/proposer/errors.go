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

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for proposer operations. The split matters: transient
// errors are retried with backoff, permanent errors fail the call
// immediately.
var (
	// ErrMissingConfig indicates required configuration (such as an API
	// key) is absent. Permanent.
	ErrMissingConfig = errors.New("proposer configuration missing")

	// ErrMalformedRequest indicates the request violates the contract
	// (no task, no files). Permanent.
	ErrMalformedRequest = errors.New("malformed proposer request")

	// ErrMalformedResponse indicates the proposer produced output that
	// does not parse into edits. Transient: a fresh generation may
	// succeed.
	ErrMalformedResponse = errors.New("malformed proposer response")

	// ErrRateLimited indicates the upstream service throttled the call.
	// Transient.
	ErrRateLimited = errors.New("proposer rate limited")

	// ErrUnavailable indicates an upstream 5xx or connection failure.
	// Transient.
	ErrUnavailable = errors.New("proposer unavailable")
)

// IsRetryable classifies an error from a proposer call.
//
// Transient: timeouts, rate limits, upstream 5xx, connection failures,
// and unparsable generations. Permanent: missing configuration, contract
// violations, and context cancellation (the caller is going away).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMissingConfig) || errors.Is(err, ErrMalformedRequest) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
