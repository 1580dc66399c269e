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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// MemoryOptions configure a MemoryIndex.
type MemoryOptions struct {
	Embed        EmbedOptions
	QueryTimeout time.Duration

	// Store persists entries. Nil keeps the index in memory only.
	Store *BadgerStore
}

// MemoryIndex holds unit-normalized vectors in process memory and scans them
// linearly. Corpora are tens to hundreds of records, so an exact scan is
// faster than any ANN structure and gives deterministic ties.
//
// # Description
//
// Cosine similarity is the dot product of unit vectors. Ties go to the
// record inserted first. With a BadgerStore, entries persisted for the same
// embedding model are restored by Restore and new entries are written
// through on Add.
//
// # Thread Safety
//
// Safe for concurrent use. Nearest holds a read lock only for the scan.
type MemoryIndex struct {
	embedder embedding.Embedder
	opts     MemoryOptions
	logger   *slog.Logger

	mu      sync.RWMutex
	records []catalog.EndpointRecord
	vectors [][]float32

	// closeFn releases a DB opened by Open on behalf of this index.
	closeFn func() error
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex(embedder embedding.Embedder, opts MemoryOptions, logger *slog.Logger) *MemoryIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryIndex{embedder: embedder, opts: opts, logger: logger}
}

// Backend implements Index.
func (m *MemoryIndex) Backend() string { return "memory" }

// Restore loads persisted entries for the current embedding model. It is a
// no-op without a store or when the index already holds records.
func (m *MemoryIndex) Restore(ctx context.Context) (int, error) {
	if m.opts.Store == nil {
		return 0, nil
	}
	entries, err := m.opts.Store.Load(ctx, m.embedder.Model())
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) > 0 {
		return 0, nil
	}
	for _, e := range entries {
		m.records = append(m.records, e.Record)
		m.vectors = append(m.vectors, e.Vector)
	}
	recordsGauge.WithLabelValues(m.Backend()).Set(float64(len(m.records)))
	if len(entries) > 0 {
		m.logger.Info("index: restored from badger",
			slog.Int("records", len(entries)),
			slog.String("model", m.embedder.Model()),
		)
	}
	return len(entries), nil
}

// Count implements Index.
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Add implements Index. Embedding happens outside the lock; the records are
// appended and persisted only when every description embedded successfully.
func (m *MemoryIndex) Add(ctx context.Context, records []catalog.EndpointRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := indexTracer.Start(ctx, "index.memory.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.records", len(records)))

	vectors, err := embedDescriptions(ctx, m.embedder, records, m.opts.Embed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("index: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Store != nil {
		entries := make([]storedEntry, len(records))
		for i := range records {
			entries[i] = storedEntry{Record: records[i], Vector: vectors[i]}
		}
		if err := m.opts.Store.Append(ctx, m.embedder.Model(), len(m.records), entries); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			return fmt.Errorf("index: %w", err)
		}
	}
	m.records = append(m.records, records...)
	m.vectors = append(m.vectors, vectors...)
	recordsGauge.WithLabelValues(m.Backend()).Set(float64(len(m.records)))
	return nil
}

// Nearest implements Index.
func (m *MemoryIndex) Nearest(ctx context.Context, query string) (match Match, err error) {
	start := time.Now()
	defer func() { observeQuery(m.Backend(), start, err) }()

	ctx, cancel := withQueryTimeout(ctx, m.opts.QueryTimeout)
	defer cancel()
	ctx, span := indexTracer.Start(ctx, "index.memory.Nearest")
	defer span.End()

	if n, _ := m.Count(ctx); n == 0 {
		return Match{}, ErrNoMatch
	}

	q, err := embedQuery(ctx, m.embedder, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return Match{}, fmt.Errorf("index: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := -1
	var bestScore float32
	for i, v := range m.vectors {
		if len(v) != len(q) {
			return Match{}, fmt.Errorf("index: query vector has %d dimensions, record %s has %d", len(q), m.records[i].ID, len(v))
		}
		s := embedding.Dot(q, v)
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}

	span.SetAttributes(
		attribute.String("index.record_id", m.records[best].ID),
		attribute.Float64("index.score", float64(bestScore)),
	)
	return Match{Record: m.records[best], Score: bestScore}, nil
}

// Close implements Index. A DB passed in through MemoryOptions.Store stays
// open; one opened by Open is closed.
func (m *MemoryIndex) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}
