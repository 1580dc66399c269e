// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights turns an aggregate data dump into three short findings.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/apiresolver/services/llm"
	"github.com/AleutianAI/apiresolver/services/resolver/extract"
)

var insightsTracer = otel.Tracer("resolver.insights")

// Keys are the fixed keys of a summary, in order.
var Keys = []string{"1", "2", "3"}

// Titles describe what each key holds.
var Titles = map[string]string{
	"1": "Data Trend",
	"2": "Key Observation",
	"3": "Actionable Insight",
}

// DefaultMaxTokens bounds the summary reply.
const DefaultMaxTokens = 400

const insightsSystemPrompt = "You are a data analyst for a school. Reply with one JSON object and nothing else."

var insightsPrompt = template.Must(template.New("insights").Parse(`
Analyse the data below and produce exactly three insights.
Respond strictly as a JSON object with exactly these keys and no additional text:
  "1": a data trend (one short sentence)
  "2": a key observation (one short sentence)
  "3": an actionable insight (one short sentence)
Every value must be a string.

Data:
{{.}}

### JSON OUTPUT (STRICT FORMAT, NO EXTRA TEXT):
`))

// Summary holds the three findings.
type Summary struct {
	Trend       string `json:"1"`
	Observation string `json:"2"`
	Action      string `json:"3"`
}

// Summarizer requests a three-point summary from a completion backend.
//
// # Thread Safety
//
// Safe for concurrent use.
type Summarizer struct {
	completer llm.Completer
	maxTokens int
	logger    *slog.Logger
}

// NewSummarizer creates a Summarizer. maxTokens <= 0 selects DefaultMaxTokens.
func NewSummarizer(completer llm.Completer, maxTokens int, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Summarizer{completer: completer, maxTokens: maxTokens, logger: logger}
}

// Summarize returns three findings for text.
//
// # Description
//
// One completion call at temperature 0. The reply goes through
// extract.ParseObject and must then carry exactly the keys "1", "2" and "3",
// each a string. Anything else is an *extract.ParseError.
//
// # Inputs
//
//   - ctx: Request context.
//   - text: Stringified aggregate data. The caller rejects empty text.
//
// # Outputs
//
//   - Summary: The findings.
//   - error: *extract.ParseError on malformed output; an error wrapping
//     llm.ErrBackendUnavailable when the backend could not answer.
func (s *Summarizer) Summarize(ctx context.Context, text string) (Summary, error) {
	ctx, span := insightsTracer.Start(ctx, "insights.Summarize")
	defer span.End()
	span.SetAttributes(attribute.Int("insights.text_len", len(text)))

	if s.completer == nil {
		err := fmt.Errorf("insights: no completion backend configured: %w", llm.ErrBackendUnavailable)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}

	var sb strings.Builder
	_ = insightsPrompt.Execute(&sb, text)

	raw, err := s.completer.Complete(ctx, strings.TrimSpace(sb.String())+"\n", llm.GenerationParams{
		Temperature:  llm.Float32(0),
		MaxTokens:    llm.Int(s.maxTokens),
		SystemPrompt: insightsSystemPrompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Summary{}, fmt.Errorf("insights: %w", err)
	}

	summary, err := Parse(raw)
	if err != nil {
		s.logger.Warn("insights: completion output failed strict parse",
			slog.String("error", err.Error()),
			slog.String("raw_output", llm.Truncate(llm.SafeLogString(raw), 2048)),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return Summary{}, err
	}
	return summary, nil
}

// Parse strictly parses a summary reply.
func Parse(raw string) (Summary, error) {
	obj, err := extract.ParseObject(raw)
	if err != nil {
		return Summary{}, err
	}
	if obj.Len() != len(Keys) {
		return Summary{}, parseErr(raw, "expected keys 1, 2, 3, got %q", obj.Keys())
	}

	vals := make([]string, len(Keys))
	for i, k := range Keys {
		v, ok := obj.Get(k)
		if !ok {
			return Summary{}, parseErr(raw, "missing key %q", k)
		}
		str, ok := v.(string)
		if !ok {
			return Summary{}, parseErr(raw, "key %q is not a string", k)
		}
		vals[i] = strings.TrimSpace(str)
	}
	return Summary{Trend: vals[0], Observation: vals[1], Action: vals[2]}, nil
}

func parseErr(raw, format string, args ...any) *extract.ParseError {
	return &extract.ParseError{
		Raw: raw,
		Err: fmt.Errorf("%w: %s", extract.ErrMalformedOutput, fmt.Sprintf(format, args...)),
	}
}

