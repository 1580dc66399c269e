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

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// QdrantConfig locates a qdrant instance (gRPC port).
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantIndex stores records as points of a cosine-distance collection.
//
// # Description
//
// The collection is created on the first Add, once the embedding dimension
// is known. Before that Count reports zero and Nearest reports ErrNoMatch.
//
// # Thread Safety
//
// Safe for concurrent use.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	embedder   embedding.Embedder
	opts       RemoteOptions
	logger     *slog.Logger

	mu     sync.Mutex
	exists bool
}

// NewQdrantIndex connects to qdrant.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, embedder embedding.Embedder, opts RemoteOptions, logger *slog.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant client: %w", err)
	}

	q := &QdrantIndex{
		client:     client,
		collection: opts.collection(),
		embedder:   embedder,
		opts:       opts,
		logger:     logger,
	}
	if _, err := q.collectionExists(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// Backend implements Index.
func (q *QdrantIndex) Backend() string { return "qdrant" }

func (q *QdrantIndex) collectionExists(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.exists {
		return true, nil
	}
	ok, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return false, fmt.Errorf("index: qdrant collection check: %w: %w", ErrUnavailable, err)
	}
	q.exists = ok
	return ok, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	ok, err := q.collectionExists(ctx)
	if err != nil || ok {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("index: qdrant create collection %s: %w", q.collection, err)
	}
	q.exists = true
	q.logger.Info("index: created qdrant collection",
		slog.String("collection", q.collection),
		slog.Int("dim", dim),
	)
	return nil
}

// Count implements Index.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	ok, err := q.collectionExists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("index: qdrant count: %w: %w", ErrUnavailable, err)
	}
	recordsGauge.WithLabelValues(q.Backend()).Set(float64(n))
	return int(n), nil
}

// Add implements Index.
func (q *QdrantIndex) Add(ctx context.Context, records []catalog.EndpointRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := indexTracer.Start(ctx, "index.qdrant.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.records", len(records)))

	vectors, err := embedDescriptions(ctx, q.embedder, records, q.opts.Embed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("index: %w", err)
	}
	if err := q.ensureCollection(ctx, len(vectors[0])); err != nil {
		span.RecordError(err)
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(toPayload(rec).asMap()),
		}
	}
	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("index: qdrant upsert: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Nearest implements Index.
func (q *QdrantIndex) Nearest(ctx context.Context, query string) (match Match, err error) {
	start := time.Now()
	defer func() { observeQuery(q.Backend(), start, err) }()

	ctx, cancel := withQueryTimeout(ctx, q.opts.QueryTimeout)
	defer cancel()
	ctx, span := indexTracer.Start(ctx, "index.qdrant.Nearest")
	defer span.End()

	ok, err := q.collectionExists(ctx)
	if err != nil {
		return Match{}, err
	}
	if !ok {
		return Match{}, ErrNoMatch
	}

	vec, err := embedQuery(ctx, q.embedder, query)
	if err != nil {
		span.RecordError(err)
		return Match{}, fmt.Errorf("index: %w", err)
	}

	limit := uint64(1)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return Match{}, fmt.Errorf("index: qdrant query: %w: %w", ErrUnavailable, err)
	}
	if len(points) == 0 {
		return Match{}, ErrNoMatch
	}

	p := points[0]
	rec := payloadRecord{
		ID:          p.Payload[fieldRecordID].GetStringValue(),
		Description: p.Payload[fieldDescription].GetStringValue(),
		URLTemplate: p.Payload[fieldURLTemplate].GetStringValue(),
		Parameters:  p.Payload[fieldParameters].GetStringValue(),
		IsFrontend:  p.Payload[fieldIsFrontend].GetBoolValue(),
	}.record()
	span.SetAttributes(attribute.String("index.record_id", rec.ID))
	return Match{Record: rec, Score: p.Score}, nil
}

// Close implements Index.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
