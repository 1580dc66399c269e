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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// WeaviateConfig locates a weaviate instance.
type WeaviateConfig struct {
	Host   string // host:port
	Scheme string // http or https
	APIKey string
}

// WeaviateIndex stores records as objects of a vectorizer-less class and
// queries them with nearVector.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateIndex struct {
	client   *weaviate.Client
	class    string
	embedder embedding.Embedder
	opts     RemoteOptions
	logger   *slog.Logger
}

// NewWeaviateIndex connects to weaviate and creates the class if missing.
func NewWeaviateIndex(ctx context.Context, cfg WeaviateConfig, embedder embedding.Embedder, opts RemoteOptions, logger *slog.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	wcfg := weaviate.Config{Host: cfg.Host, Scheme: scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("index: weaviate client: %w", err)
	}

	w := &WeaviateIndex{
		client:   client,
		class:    className(opts.collection()),
		embedder: embedder,
		opts:     opts,
		logger:   logger,
	}
	if err := w.ensureClass(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Backend implements Index.
func (w *WeaviateIndex) Backend() string { return "weaviate" }

func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("index: weaviate class check: %w: %w", ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       w.class,
		Description: "Internal API endpoints searchable by description",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: fieldRecordID, DataType: []string{"text"}},
			{Name: fieldDescription, DataType: []string{"text"}},
			{Name: fieldURLTemplate, DataType: []string{"text"}},
			{Name: fieldParameters, DataType: []string{"text"}},
			{Name: fieldIsFrontend, DataType: []string{"boolean"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("index: weaviate create class %s: %w", w.class, err)
	}
	w.logger.Info("index: created weaviate class", slog.String("class", w.class))
	return nil
}

// Count implements Index.
func (w *WeaviateIndex) Count(ctx context.Context) (int, error) {
	res, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("index: weaviate aggregate: %w: %w", ErrUnavailable, err)
	}
	if err := graphQLError(res); err != nil {
		return 0, fmt.Errorf("index: weaviate aggregate: %w", err)
	}

	rows := classRows(res, "Aggregate", w.class)
	if len(rows) == 0 {
		return 0, nil
	}
	meta, _ := rows[0]["meta"].(map[string]any)
	count, _ := meta["count"].(float64)
	recordsGauge.WithLabelValues(w.Backend()).Set(count)
	return int(count), nil
}

// Add implements Index.
func (w *WeaviateIndex) Add(ctx context.Context, records []catalog.EndpointRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := indexTracer.Start(ctx, "index.weaviate.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.records", len(records)))

	vectors, err := embedDescriptions(ctx, w.embedder, records, w.opts.Embed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("index: %w", err)
	}

	objects := make([]*models.Object, len(records))
	for i, rec := range records {
		objects[i] = &models.Object{
			Class:      w.class,
			ID:         strfmt.UUID(rec.ID),
			Properties: toPayload(rec).asMap(),
			Vector:     vectors[i],
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return fmt.Errorf("index: weaviate batch: %w: %w", ErrUnavailable, err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			err := fmt.Errorf("index: weaviate batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch object rejected")
			return err
		}
	}
	return nil
}

// Nearest implements Index.
func (w *WeaviateIndex) Nearest(ctx context.Context, query string) (match Match, err error) {
	start := time.Now()
	defer func() { observeQuery(w.Backend(), start, err) }()

	ctx, cancel := withQueryTimeout(ctx, w.opts.QueryTimeout)
	defer cancel()
	ctx, span := indexTracer.Start(ctx, "index.weaviate.Nearest")
	defer span.End()

	q, err := embedQuery(ctx, w.embedder, query)
	if err != nil {
		span.RecordError(err)
		return Match{}, fmt.Errorf("index: %w", err)
	}

	gql := w.client.GraphQL()
	res, err := gql.Get().
		WithClassName(w.class).
		WithFields(
			graphql.Field{Name: fieldRecordID},
			graphql.Field{Name: fieldDescription},
			graphql.Field{Name: fieldURLTemplate},
			graphql.Field{Name: fieldParameters},
			graphql.Field{Name: fieldIsFrontend},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearVector(gql.NearVectorArgBuilder().WithVector(q)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return Match{}, fmt.Errorf("index: weaviate query: %w: %w", ErrUnavailable, err)
	}
	if err := graphQLError(res); err != nil {
		return Match{}, fmt.Errorf("index: weaviate query: %w", err)
	}

	rows := classRows(res, "Get", w.class)
	if len(rows) == 0 {
		return Match{}, ErrNoMatch
	}
	row := rows[0]
	isFrontend, _ := row[fieldIsFrontend].(bool)
	rec := payloadRecord{
		ID:          jsonString(row[fieldRecordID]),
		Description: jsonString(row[fieldDescription]),
		URLTemplate: jsonString(row[fieldURLTemplate]),
		Parameters:  jsonString(row[fieldParameters]),
		IsFrontend:  isFrontend,
	}.record()

	var score float32
	if add, ok := row["_additional"].(map[string]any); ok {
		if d, ok := add["distance"].(float64); ok {
			score = float32(1 - d)
		}
	}
	span.SetAttributes(attribute.String("index.record_id", rec.ID))
	return Match{Record: rec, Score: score}, nil
}

// Close implements Index.
func (w *WeaviateIndex) Close() error { return nil }

func graphQLError(res *models.GraphQLResponse) error {
	if res == nil {
		return errors.New("empty graphql response")
	}
	if len(res.Errors) > 0 && res.Errors[0] != nil {
		return fmt.Errorf("graphql: %s", res.Errors[0].Message)
	}
	return nil
}

// classRows digs data.{op}.{class} out of a GraphQL response.
func classRows(res *models.GraphQLResponse, op, class string) []map[string]any {
	byClass, ok := res.Data[op].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := byClass[class].([]any)
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}
