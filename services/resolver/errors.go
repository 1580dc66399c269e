// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AleutianAI/apiresolver/services/llm"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
	"github.com/AleutianAI/apiresolver/services/resolver/extract"
	"github.com/AleutianAI/apiresolver/services/resolver/index"
)

// Kind classifies a request failure. Its string value is the "code" field of
// error responses.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNoMatch            Kind = "NO_MATCH"
	KindExtractionParse    Kind = "EXTRACTION_PARSE_FAILED"
	KindInsightsParse      Kind = "INSIGHTS_PARSE_FAILED"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindBackendRejected    Kind = "BACKEND_REJECTED"
	KindWarmingUp          Kind = "SERVICE_WARMING_UP"
	KindInternal           Kind = "INTERNAL"
)

// User-facing messages.
const (
	msgNoQuery            = "No text provided"
	msgNoMatch            = "No matching API found"
	msgExtractionParse    = "Context too large. Unable to parse response."
	msgInsightsParse      = "Unable to parse insights response."
	msgBackendUnavailable = "Backend service unavailable. Please retry later."
	msgBackendRejected    = "Backend service rejected the request."
	msgWarmingUp          = "Endpoint corpus is still loading. Please retry shortly."
	msgInternal           = "Internal error"
)

// Error is a classified request failure.
//
// Message is safe to return to callers. Err holds the underlying cause for
// logs and is never serialised.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error.
//
// NO_MATCH and EXTRACTION_PARSE_FAILED are soft failures: the request was
// valid and the service worked, it just has no URL to offer, so they are
// answered with 200 and an error body.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidInput, KindInsightsParse:
		return http.StatusBadRequest
	case KindNoMatch, KindExtractionParse:
		return http.StatusOK
	case KindBackendUnavailable, KindWarmingUp:
		return http.StatusServiceUnavailable
	case KindBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// classify maps a pipeline error onto a Kind. parseKind selects how a strict
// parse failure is reported, since the resolve and insights endpoints differ.
func classify(err error, parseKind Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var pe *extract.ParseError
	var se *llm.StatusError
	switch {
	case errors.Is(err, index.ErrNoMatch):
		return newError(KindNoMatch, msgNoMatch, err)
	case errors.As(err, &pe):
		msg := msgExtractionParse
		if parseKind == KindInsightsParse {
			msg = msgInsightsParse
		}
		return newError(parseKind, msg, err)
	case errors.Is(err, llm.ErrBackendUnavailable),
		errors.Is(err, embedding.ErrUnavailable),
		errors.Is(err, index.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(KindBackendUnavailable, msgBackendUnavailable, err)
	case errors.As(err, &se):
		return newError(KindBackendRejected, msgBackendRejected, err)
	default:
		return newError(KindInternal, msgInternal, err)
	}
}
