// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract pulls declared parameter values out of free text with a
// constrained completion call and parses the reply strictly.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apiresolver/services/llm"
)

var extractTracer = otel.Tracer("resolver.extract")

// maxLoggedOutput bounds how much raw model output is logged on parse failure.
const maxLoggedOutput = 2048

// DefaultMaxTokens bounds the extraction reply.
const DefaultMaxTokens = 512

// Options configure an Extractor.
type Options struct {
	// FieldDefaults maps a parameter name to the value the model should use
	// when the text does not state it.
	FieldDefaults map[string]string

	// DefaultValue applies to parameters without a FieldDefaults entry.
	// Written as a JSON literal ("null") or plain text.
	DefaultValue string

	// MaxTokens caps the reply length. Zero selects DefaultMaxTokens.
	MaxTokens int
}

// Extractor fills declared parameters from query text.
//
// # Description
//
// One completion call per Extract, temperature 0, no retries. The reply must
// parse as a single JSON object (see ParseObject). Keys the model invents are
// dropped; declared keys it omits are filled with their default so a
// successful extraction always covers every declared parameter.
//
// # Thread Safety
//
// Safe for concurrent use. Holds no per-request state.
type Extractor struct {
	completer llm.Completer
	opts      Options
	logger    *slog.Logger
}

// NewExtractor creates an Extractor backed by completer.
func NewExtractor(completer llm.Completer, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Extractor{completer: completer, opts: opts, logger: logger}
}

// Extract returns the values of names found in text.
//
// # Inputs
//
//   - ctx: Request context. Cancellation abandons the completion call.
//   - names: Declared parameter names. Empty short-circuits.
//   - text: The user's query.
//
// # Outputs
//
//   - *Result: Ordered values. Empty, never nil, when names is empty.
//   - error: *ParseError for malformed output; an error wrapping
//     llm.ErrBackendUnavailable when the backend could not answer.
func (e *Extractor) Extract(ctx context.Context, names []string, text string) (*Result, error) {
	if len(names) == 0 {
		return NewResult(), nil
	}

	ctx, span := extractTracer.Start(ctx, "extract.Extract",
		trace.WithAttributes(attribute.StringSlice("extract.fields", names)),
	)
	defer span.End()

	if e.completer == nil {
		err := fmt.Errorf("extract: no completion backend configured: %w", llm.ErrBackendUnavailable)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prompt := BuildPrompt(names, text, e.opts.FieldDefaults, e.opts.DefaultValue)
	raw, err := e.completer.Complete(ctx, prompt, llm.GenerationParams{
		Temperature:  llm.Float32(0),
		MaxTokens:    llm.Int(e.opts.MaxTokens),
		SystemPrompt: extractionSystemPrompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("extract: %w", err)
	}

	parsed, err := ParseObject(raw)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			e.logger.Warn("extract: completion output failed strict parse",
				slog.String("error", pe.Err.Error()),
				slog.String("raw_output", excerpt(raw)),
				slog.Int("raw_len", len(raw)),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}

	result := e.normalize(names, parsed)
	span.SetAttributes(attribute.Int("extract.values", result.Len()))
	return result, nil
}

// normalize keeps declared keys in the order the model emitted them and
// appends defaults for declared keys it left out.
func (e *Extractor) normalize(names []string, parsed *Result) *Result {
	declared := make(map[string]struct{}, len(names))
	for _, n := range names {
		declared[n] = struct{}{}
	}

	out := NewResult()
	for _, k := range parsed.Keys() {
		if _, ok := declared[k]; !ok {
			e.logger.Debug("extract: dropping undeclared key", slog.String("key", k))
			continue
		}
		v, _ := parsed.Get(k)
		out.Set(k, v)
	}
	for _, n := range names {
		if !out.Has(n) {
			out.Set(n, e.defaultFor(n))
		}
	}
	return out
}

func (e *Extractor) defaultFor(name string) any {
	raw, ok := e.opts.FieldDefaults[name]
	if !ok {
		raw = e.opts.DefaultValue
	}
	dec := json.NewDecoder(strings.NewReader(jsonLiteral(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	return v
}

func excerpt(raw string) string {
	return llm.Truncate(llm.SafeLogString(raw), maxLoggedOutput)
}
