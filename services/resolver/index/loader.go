// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
)

// SourceFunc reads the endpoint corpus. It returns the records and a name for
// the source used in logs.
type SourceFunc func(ctx context.Context) ([]catalog.EndpointRecord, string, error)

// CatalogSource reads the corpus at path, or the embedded corpus when path is
// empty.
func CatalogSource(path string) SourceFunc {
	return func(ctx context.Context) ([]catalog.EndpointRecord, string, error) {
		return catalog.Load(ctx, path)
	}
}

// LoadResult describes a Load call.
type LoadResult struct {
	// Loaded is the number of records added by this call. Zero when the
	// index was already populated.
	Loaded int

	// Total is the index size afterwards.
	Total int

	Source   string
	Skipped  bool
	Duration time.Duration
}

// Loader populates an index from the corpus exactly once.
//
// # Description
//
// Load is the initialisation barrier of the service. The first successful
// call either finds the index populated (a persisted or remote index from an
// earlier run) and does nothing, or reads the corpus and adds every record.
// Later calls return immediately. A failed call leaves the loader not done
// so it can be retried.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Load calls are serialised; at most one
// adds records.
type Loader struct {
	index  Index
	source SourceFunc
	logger *slog.Logger

	mu   sync.Mutex
	done atomic.Bool
	last LoadResult
}

// NewLoader creates a Loader for idx reading from source.
func NewLoader(idx Index, source SourceFunc, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{index: idx, source: source, logger: logger}
}

// Done reports whether a Load call has succeeded.
func (l *Loader) Done() bool { return l.done.Load() }

// Load populates the index if it is empty.
//
// # Outputs
//
//   - LoadResult: What happened. On repeat calls, the result of the first
//     successful call with Skipped set.
//   - error: Source read, embedding or store failure. The process cannot
//     serve queries until a Load succeeds.
func (l *Loader) Load(ctx context.Context) (LoadResult, error) {
	if l.done.Load() {
		r := l.lastResult()
		r.Skipped = true
		return r, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done.Load() {
		r := l.last
		r.Skipped = true
		return r, nil
	}

	ctx, span := indexTracer.Start(ctx, "index.Loader.Load")
	defer span.End()
	start := time.Now()

	n, err := l.index.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return LoadResult{}, fmt.Errorf("corpus load: %w", err)
	}
	if n > 0 {
		l.finish(LoadResult{Total: n, Skipped: true, Duration: time.Since(start)})
		l.logger.Info("corpus load: index already populated, skipping",
			slog.String("backend", l.index.Backend()),
			slog.Int("records", n),
		)
		return l.last, nil
	}

	records, source, err := l.source(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source read failed")
		return LoadResult{}, fmt.Errorf("corpus load: %w", err)
	}
	span.SetAttributes(
		attribute.String("corpus.source", source),
		attribute.Int("corpus.records", len(records)),
	)

	if err := l.index.Add(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add failed")
		return LoadResult{}, fmt.Errorf("corpus load: %w", err)
	}

	l.finish(LoadResult{
		Loaded:   len(records),
		Total:    n + len(records),
		Source:   source,
		Duration: time.Since(start),
	})
	l.logger.Info("corpus load: complete",
		slog.String("backend", l.index.Backend()),
		slog.String("source", source),
		slog.Int("records", len(records)),
		slog.Duration("duration", l.last.Duration),
	)
	return l.last, nil
}

// finish records r and marks the loader done. Callers hold mu.
func (l *Loader) finish(r LoadResult) {
	l.last = r
	l.done.Store(true)
}

func (l *Loader) lastResult() LoadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
