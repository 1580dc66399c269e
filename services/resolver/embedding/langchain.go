// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainEmbedder adapts a langchaingo embeddings.Embedder.
//
// # Description
//
// Used for hosted OpenAI-compatible embedding APIs, where langchaingo handles
// batching and authentication. Every error from the wrapped embedder is
// reported as unavailability.
type LangChainEmbedder struct {
	inner embeddings.Embedder
	model string
}

// NewLangChainEmbedder wraps an existing langchaingo embedder.
func NewLangChainEmbedder(inner embeddings.Embedder, model string) *LangChainEmbedder {
	return &LangChainEmbedder{inner: inner, model: model}
}

// NewOpenAIEmbedder builds a LangChainEmbedder against an OpenAI-compatible
// embeddings API.
//
// Inputs:
//   - baseURL: API root (e.g., "https://api.openai.com/v1"). Empty uses the library default.
//   - apiKey: Bearer token.
//   - model: Embedding model (e.g., "text-embedding-3-small").
func NewOpenAIEmbedder(baseURL, apiKey, model string) (*LangChainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: creating openai client: %w", err)
	}
	inner, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("embedding: creating embedder: %w", err)
	}
	return NewLangChainEmbedder(inner, model), nil
}

// Model implements Embedder.
func (l *LangChainEmbedder) Model() string { return l.model }

// Embed implements Embedder.
func (l *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := l.inner.EmbedQuery(ctx, text)
	if err != nil {
		embedCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(vec) == 0 {
		embedCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding: empty vector")
	}
	embedCalls.WithLabelValues("success").Inc()
	return vec, nil
}
