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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// DefaultEmbedConcurrency bounds parallel embedding calls during Add.
const DefaultEmbedConcurrency = 4

// EmbedOptions pace the embedding calls made while adding records.
type EmbedOptions struct {
	// Concurrency bounds in-flight embedding calls. Zero selects
	// DefaultEmbedConcurrency.
	Concurrency int

	// RatePerSecond caps embedding calls per second. Zero means unlimited.
	RatePerSecond float64
}

// embedDescriptions embeds every record description and returns
// unit-normalized vectors in record order.
//
// # Description
//
// Calls run on an errgroup bounded by a semaphore, each waiting on a shared
// rate limiter first. The first failure cancels the rest and is returned; a
// partially embedded corpus is never stored.
func embedDescriptions(ctx context.Context, emb embedding.Embedder, records []catalog.EndpointRecord, opts EmbedOptions) ([][]float32, error) {
	conc := opts.Concurrency
	if conc <= 0 {
		conc = DefaultEmbedConcurrency
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), conc)
	}

	vectors := make([][]float32, len(records))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, conc)

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			vec, err := emb.Embed(gctx, rec.Description)
			if err != nil {
				return fmt.Errorf("embed record %s: %w", rec.ID, err)
			}
			norm := embedding.Normalize(vec)
			if norm == nil {
				return fmt.Errorf("embed record %s: zero-length vector for %q", rec.ID, rec.Description)
			}
			vectors[i] = norm
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedQuery embeds query and normalizes the result. A zero vector is
// returned as all zeros of the same length.
func embedQuery(ctx context.Context, emb embedding.Embedder, query string) ([]float32, error) {
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if norm := embedding.Normalize(vec); norm != nil {
		return norm, nil
	}
	return make([]float32, len(vec)), nil
}
