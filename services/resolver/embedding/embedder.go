// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns endpoint descriptions and user queries into vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Embedder
// =============================================================================

// ErrUnavailable marks failures to reach the embedding service. The resolver
// reports these as backend unavailability, never as "no match".
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder produces a vector for a piece of text.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model names the embedding model. Vectors from different models are not
	// comparable, so stores key persisted vectors by it.
	Model() string
}

var embedCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resolver",
		Subsystem: "embedding",
		Name:      "calls_total",
		Help:      "Embedding service calls by status.",
	},
	[]string{"status"},
)

// =============================================================================
// Ollama
// =============================================================================

// DefaultOllamaEmbedURL is the local Ollama embed endpoint.
const DefaultOllamaEmbedURL = "http://localhost:11434/api/embed"

// DefaultOllamaEmbedModel is used when no model is configured.
const DefaultOllamaEmbedModel = "nomic-embed-text"

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
//
// # Description
//
// One request per text. Bulk loading fans out at the caller with bounded
// concurrency; the HTTP client timeout is a ceiling and per-call deadlines
// come from ctx.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewOllamaEmbedder creates an embedder for the given endpoint and model.
// Empty values select DefaultOllamaEmbedURL and DefaultOllamaEmbedModel.
func NewOllamaEmbedder(url, model string, timeout time.Duration, logger *slog.Logger) *OllamaEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = DefaultOllamaEmbedURL
	}
	if model == "" {
		model = DefaultOllamaEmbedModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Model implements Embedder.
func (e *OllamaEmbedder) Model() string { return e.model }

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		embedCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	embedCalls.WithLabelValues("success").Inc()
	return vec, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed HTTP call: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read embed response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embed service returned %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(body), 256))
	}

	var ollamaResp ollamaEmbedResp
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(ollamaResp.Embeddings) == 0 || len(ollamaResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}

	return ollamaResp.Embeddings[0], nil
}

// truncate cuts s to n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
