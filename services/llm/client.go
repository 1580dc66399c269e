// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains the text-completion backends used for parameter
// extraction and insight summaries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"
)

// =============================================================================
// Completer
// =============================================================================

// Completer produces a free-text completion for a single prompt.
//
// # Description
//
// Implementations are stateless with respect to callers: each call is an
// independent request. Every implementation must honour ctx cancellation and
// return an error wrapping ErrBackendUnavailable when the backend could not
// be reached, refused the credentials (401, 403) or answered with a transient
// failure (408, 429, 5xx).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends prompt and returns the raw text of the first choice.
	Complete(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Provider returns a short label ("openai", "groq", "anthropic", ...) used in
	// metrics and logs.
	Provider() string
}

// GenerationParams tunes a single completion call. Nil fields use the
// backend's default.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	Stop          []string
	ModelOverride string
	SystemPrompt  string
}

// Float32 returns a pointer to v, for GenerationParams fields.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams fields.
func Int(v int) *int { return &v }

// =============================================================================
// Errors
// =============================================================================

// ErrBackendUnavailable marks infrastructure failures: connection errors,
// deadlines, rate limiting and server errors. Malformed model output is NOT
// an unavailability error.
var ErrBackendUnavailable = errors.New("completion backend unavailable")

// ErrEmptyResponse is returned when the backend answered but produced no choice.
var ErrEmptyResponse = errors.New("completion backend returned no content")

// unavailable wraps err so that errors.Is(result, ErrBackendUnavailable) holds.
func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrBackendUnavailable, err)
}

// transportError classifies an error returned by http.Client.Do. Context
// cancellation, deadlines and network errors are all unavailability.
func transportError(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return unavailable(provider, err)
	}
	return unavailable(provider, fmt.Errorf("HTTP request failed: %w", err))
}

// StatusError is a non-200 answer from a completion backend. Body is
// redacted and truncated.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Body)
}

// statusError builds the error for a non-200 response.
//
// Transient codes and credential rejections wrap ErrBackendUnavailable: in
// both cases the backend cannot serve this deployment until something outside
// the request changes. Any other code means the backend rejected the request
// itself. The *StatusError is always reachable with errors.As.
func statusError(provider string, status int, body []byte) error {
	se := &StatusError{
		Provider: provider,
		Code:     status,
		Body:     Truncate(SafeLogString(string(body)), maxErrorBodyLen),
	}
	if IsTransientStatus(status) || IsAuthStatus(status) {
		return unavailable(provider, se)
	}
	return fmt.Errorf("%s: %w", provider, se)
}

// IsTransientStatus reports whether an HTTP status indicates the backend is
// temporarily unable to serve.
func IsTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// IsAuthStatus reports whether an HTTP status means the credentials were
// refused.
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// maxErrorBodyLen caps how much of an error body is embedded in error text.
const maxErrorBodyLen = 512

// Truncate shortens s to at most n bytes plus "...", cutting on a rune
// boundary so the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
