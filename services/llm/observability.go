// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// llmTracerName is the shared OTel tracer name for all completion backends.
const llmTracerName = "resolver.llm"

// Package-level Prometheus metrics for completion calls.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// llmCallDuration measures the duration of completion calls.
	//
	// Labels:
	//   - provider: "openai", "groq", "anthropic", "gemini", "ollama"
	//   - status: "success" or "error"
	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolver",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of completion backend calls in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// llmErrorsTotal counts completion errors by type.
	//
	// Labels:
	//   - provider
	//   - error_type: "timeout", "canceled", "unavailable", "rate_limit",
	//     "auth", "empty_response", "unknown"
	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total completion backend errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// llmActiveRequests tracks in-flight completion calls.
	llmActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "resolver",
			Subsystem: "llm",
			Name:      "active_requests",
			Help:      "Number of in-flight completion backend calls.",
		},
		[]string{"provider"},
	)
)

// classifyError maps an error to a label-safe error type string.
//
// Returns an empty string for nil.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return "rate_limit"
		case IsAuthStatus(se.Code):
			return "auth"
		case IsTransientStatus(se.Code):
			return "unavailable"
		default:
			return "rejected"
		}
	}

	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}

// instrumented decorates a Completer with a span, a per-call timeout and
// Prometheus metrics.
type instrumented struct {
	next    Completer
	timeout time.Duration
}

// Instrument wraps c so that every call:
//
//   - runs inside an OTel span named "llm.Complete",
//   - is bounded by timeout (zero leaves the caller's deadline alone),
//   - records duration, error type and in-flight count.
//
// A call that hits the timeout returns an error wrapping both
// context.DeadlineExceeded and ErrBackendUnavailable.
func Instrument(c Completer, timeout time.Duration) Completer {
	if c == nil {
		return nil
	}
	return &instrumented{next: c, timeout: timeout}
}

// Provider implements Completer.
func (i *instrumented) Provider() string { return i.next.Provider() }

// Complete implements Completer.
func (i *instrumented) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	provider := i.next.Provider()
	ctx, span := otel.Tracer(llmTracerName).Start(ctx, "llm.Complete",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.Int("llm.prompt_len", len(prompt)),
		),
	)
	defer span.End()

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	llmActiveRequests.WithLabelValues(provider).Inc()
	defer llmActiveRequests.WithLabelValues(provider).Dec()

	start := time.Now()
	out, err := i.next.Complete(ctx, prompt, params)
	duration := time.Since(start)

	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrBackendUnavailable) {
		err = unavailable(provider, errors.Join(err, ctx.Err()))
	}

	status := "success"
	if err != nil {
		status = "error"
		llmErrorsTotal.WithLabelValues(provider, classifyError(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	} else {
		span.SetAttributes(attribute.Int("llm.response_len", len(out)))
	}
	llmCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())

	return out, err
}
