// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver maps natural-language queries onto internal API calls.
//
// A query is matched to the closest endpoint description, the endpoint's
// declared parameters are extracted from the query by a completion backend,
// and the values are substituted into the endpoint's URL template.
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/apiresolver/services/resolver/extract"
	"github.com/AleutianAI/apiresolver/services/resolver/index"
	"github.com/AleutianAI/apiresolver/services/resolver/insights"
	"github.com/AleutianAI/apiresolver/services/resolver/template"
)

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	URL        string          `json:"url"`
	Data       *extract.Result `json:"data"`
	IsFrontend bool            `json:"isFrontend"`

	RecordID string  `json:"-"`
	Score    float32 `json:"-"`
}

// Service runs the resolve and insights pipelines.
//
// # Description
//
// All collaborators are built once at startup and shared by every request.
// Requests hold no state between calls. Resolve refuses to run until the
// Loader has populated the index.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	index      index.Index
	loader     *index.Loader
	extractor  *extract.Extractor
	summarizer *insights.Summarizer
	logger     *slog.Logger
}

// NewService wires a Service. loader may be nil when the index is known to be
// populated, which makes the service ready immediately.
func NewService(idx index.Index, loader *index.Loader, extractor *extract.Extractor, summarizer *insights.Summarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:      idx,
		loader:     loader,
		extractor:  extractor,
		summarizer: summarizer,
		logger:     logger,
	}
}

// Ready reports whether the corpus load has completed.
func (s *Service) Ready() bool {
	return s.loader == nil || s.loader.Done()
}

// Count returns the number of indexed endpoints.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// Resolve turns query into a concrete request URL.
//
// # Description
//
// Retrieve the nearest endpoint, extract its declared parameters from the
// query, substitute them into the URL template. Extraction is skipped for
// endpoints without parameters. When extraction fails no substitution is
// attempted and no partial URL is returned.
//
// # Inputs
//
//   - ctx: Request context. Cancellation aborts the backend calls.
//   - query: Free text. Surrounding whitespace is ignored.
//
// # Outputs
//
//   - Resolution: URL, extracted data and frontend flag.
//   - error: Always an *Error.
func (s *Service) Resolve(ctx context.Context, query string) (res Resolution, err error) {
	ctx, span := resolverTracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	defer func() {
		e := classify(err, KindExtractionParse)
		recordOutcome("resolve", e)
		if e != nil {
			err = e
			span.SetAttributes(attribute.String("resolver.code", string(e.Kind)))
			if e.Kind != KindNoMatch && e.Kind != KindInvalidInput {
				span.SetStatus(codes.Error, string(e.Kind))
			}
		}
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return Resolution{}, newError(KindInvalidInput, msgNoQuery, nil)
	}
	if !s.Ready() {
		return Resolution{}, newError(KindWarmingUp, msgWarmingUp, nil)
	}

	start := time.Now()
	match, err := s.index.Nearest(ctx, query)
	observeStage(ctx, "retrieve", start)
	if err != nil {
		s.logFailure(ctx, "retrieve", err)
		return Resolution{}, err
	}
	rec := match.Record
	span.SetAttributes(
		attribute.String("resolver.record_id", rec.ID),
		attribute.Float64("resolver.score", float64(match.Score)),
	)

	start = time.Now()
	data, err := s.extractor.Extract(ctx, rec.ParameterNames, query)
	observeStage(ctx, "extract", start)
	if err != nil {
		s.logFailure(ctx, "extract", err, slog.String("record_id", rec.ID))
		return Resolution{}, err
	}
	extractedParams.Observe(float64(data.Len()))

	start = time.Now()
	url := template.Resolve(rec.URLTemplate, data)
	observeStage(ctx, "resolve", start)

	s.logger.Debug("resolver: resolved query",
		slog.String("record_id", rec.ID),
		slog.Float64("score", float64(match.Score)),
		slog.String("url", url),
		slog.Int("params", data.Len()),
		slog.String("trace_id", traceID(ctx)),
	)
	return Resolution{
		URL:        url,
		Data:       data,
		IsFrontend: rec.IsFrontend,
		RecordID:   rec.ID,
		Score:      match.Score,
	}, nil
}

// Insights summarises text into three findings.
//
// # Outputs
//
//   - insights.Summary: The findings.
//   - error: Always an *Error.
func (s *Service) Insights(ctx context.Context, text string) (summary insights.Summary, err error) {
	ctx, span := resolverTracer.Start(ctx, "resolver.Insights")
	defer span.End()
	defer func() {
		e := classify(err, KindInsightsParse)
		recordOutcome("insights", e)
		if e != nil {
			err = e
			span.SetStatus(codes.Error, string(e.Kind))
		}
	}()

	if strings.TrimSpace(text) == "" {
		return insights.Summary{}, newError(KindInvalidInput, msgNoQuery, nil)
	}

	start := time.Now()
	summary, err = s.summarizer.Summarize(ctx, text)
	observeStage(ctx, "insights", start)
	if err != nil {
		s.logFailure(ctx, "insights", err)
		return insights.Summary{}, err
	}
	return summary, nil
}

func (s *Service) logFailure(ctx context.Context, stage string, err error, attrs ...any) {
	args := append([]any{
		slog.String("stage", stage),
		slog.String("error", err.Error()),
		slog.String("trace_id", traceID(ctx)),
	}, attrs...)
	s.logger.Warn("resolver: stage failed", args...)
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
