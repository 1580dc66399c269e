// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index stores endpoint records with their description vectors and
// answers nearest-neighbour queries over them.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
)

var indexTracer = otel.Tracer("resolver.index")

// ErrNoMatch is returned by Nearest when the index holds no records.
var ErrNoMatch = errors.New("index: no matching endpoint")

// DefaultCollection is the collection (or class) name used by remote backends.
const DefaultCollection = "api_endpoints"

// DefaultQueryTimeout bounds a single Nearest call.
const DefaultQueryTimeout = 10 * time.Second

// Match is the result of a nearest-neighbour lookup.
type Match struct {
	Record catalog.EndpointRecord

	// Score is the cosine similarity between query and record description.
	Score float32
}

// Index is a searchable set of endpoint records.
//
// # Description
//
// Records are appended once by the Loader and never mutated or removed.
// Nearest returns exactly one record or ErrNoMatch. Failures of the embedding
// service or a remote index wrap embedding.ErrUnavailable or ErrUnavailable.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Nearest never mutates.
type Index interface {
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Add embeds the descriptions of records and stores them.
	Add(ctx context.Context, records []catalog.EndpointRecord) error

	// Nearest returns the record whose description is closest to query.
	Nearest(ctx context.Context, query string) (Match, error)

	// Backend names the implementation for logs ("memory", "weaviate", "qdrant").
	Backend() string

	// Close releases connections and files.
	Close() error
}

// ErrUnavailable marks failures to reach a remote vector store.
var ErrUnavailable = errors.New("index: vector store unavailable")

var recordsGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "resolver",
		Subsystem: "index",
		Name:      "records",
		Help:      "Endpoint records held by the index.",
	},
	[]string{"backend"},
)

var queryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "resolver",
		Subsystem: "index",
		Name:      "query_duration_seconds",
		Help:      "Nearest-neighbour query latency, including the query embedding.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"backend", "status"},
)

func observeQuery(backend string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNoMatch):
		status = "no_match"
	case err != nil:
		status = "error"
	}
	queryDuration.WithLabelValues(backend, status).Observe(time.Since(start).Seconds())
}

// withQueryTimeout applies d to ctx when d is positive.
func withQueryTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
