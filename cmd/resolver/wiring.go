// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/apiresolver/services/llm"
	"github.com/AleutianAI/apiresolver/services/resolver"
	"github.com/AleutianAI/apiresolver/services/resolver/config"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
	"github.com/AleutianAI/apiresolver/services/resolver/extract"
	"github.com/AleutianAI/apiresolver/services/resolver/index"
	"github.com/AleutianAI/apiresolver/services/resolver/insights"
)

// app holds the collaborators built once at startup.
type app struct {
	index   index.Index
	loader  *index.Loader
	service *resolver.Service
}

// Close releases the index.
func (a *app) Close() error {
	if a.index == nil {
		return nil
	}
	return a.index.Close()
}

func newEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout, logger), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model)
	case "hash":
		return embedding.HashEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func indexOptions(cfg config.IndexConfig) index.Options {
	return index.Options{
		Backend:      cfg.Backend,
		Collection:   cfg.Collection,
		QueryTimeout: cfg.QueryTimeout,
		DataDir:      cfg.DataDir,
		Embed: index.EmbedOptions{
			Concurrency:   cfg.EmbedConcurrency,
			RatePerSecond: cfg.EmbedRatePerSecond,
		},
		Weaviate: index.WeaviateConfig{
			Host:   cfg.Weaviate.Host,
			Scheme: cfg.Weaviate.Scheme,
			APIKey: cfg.Weaviate.APIKey,
		},
		Qdrant: index.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		},
	}
}

// openIndex builds the embedder, the index and its loader.
func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (index.Index, *index.Loader, error) {
	emb, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, err
	}
	idx, err := index.Open(ctx, indexOptions(cfg.Index), emb, logger)
	if err != nil {
		return nil, nil, err
	}
	return idx, index.NewLoader(idx, index.CatalogSource(cfg.Corpus.Path), logger), nil
}

// buildApp wires every collaborator.
//
// A completion backend that cannot be constructed (usually a missing API
// key) is logged and left nil; queries that need extraction then fail with
// BACKEND_UNAVAILABLE while parameterless endpoints keep resolving.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	idx, loader, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var completer llm.Completer
	completer, err = llm.NewCompleter(llm.Config{
		Provider: cfg.Completion.Provider,
		Model:    cfg.Completion.Model,
		BaseURL:  cfg.Completion.BaseURL,
		APIKey:   cfg.Completion.APIKey,
		Timeout:  cfg.Completion.Timeout,
	}, logger)
	if err != nil {
		logger.Error("Completion backend not available; extraction and insights will answer 503",
			slog.String("provider", cfg.Completion.Provider),
			slog.String("error", err.Error()),
		)
		completer = nil
	}

	extractor := extract.NewExtractor(completer, extract.Options{
		FieldDefaults: cfg.Extraction.FieldDefaults,
		DefaultValue:  cfg.Extraction.DefaultValue,
		MaxTokens:     cfg.Extraction.MaxTokens,
	}, logger)
	summarizer := insights.NewSummarizer(completer, cfg.Insights.MaxTokens, logger)

	return &app{
		index:   idx,
		loader:  loader,
		service: resolver.NewService(idx, loader, extractor, summarizer, logger),
	}, nil
}

var errCorpusLoad = errors.New("corpus load failed")
