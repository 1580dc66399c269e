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
	"time"

	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendWeaviate = "weaviate"
	BackendQdrant   = "qdrant"
)

// Options select and configure an index backend.
type Options struct {
	Backend      string
	Collection   string
	QueryTimeout time.Duration
	Embed        EmbedOptions

	// DataDir persists the memory backend in BadgerDB. Empty keeps it in
	// process memory only.
	DataDir string

	Weaviate WeaviateConfig
	Qdrant   QdrantConfig
}

// Open builds the configured backend. The memory backend restores entries
// persisted under DataDir before returning.
func Open(ctx context.Context, opts Options, embedder embedding.Embedder, logger *slog.Logger) (Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		return nil, fmt.Errorf("index: embedder is required")
	}
	remote := RemoteOptions{Embed: opts.Embed, QueryTimeout: opts.QueryTimeout, Collection: opts.Collection}

	switch opts.Backend {
	case "", BackendMemory:
		mopts := MemoryOptions{Embed: opts.Embed, QueryTimeout: opts.QueryTimeout}
		var closeFn func() error
		if opts.DataDir != "" {
			db, err := OpenBadger(opts.DataDir)
			if err != nil {
				return nil, fmt.Errorf("index: %w", err)
			}
			mopts.Store = NewBadgerStore(db, logger)
			closeFn = db.Close
		}
		m := NewMemoryIndex(embedder, mopts, logger)
		m.closeFn = closeFn
		if _, err := m.Restore(ctx); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("index: restore: %w", err)
		}
		return m, nil

	case BackendWeaviate:
		return NewWeaviateIndex(ctx, opts.Weaviate, embedder, remote, logger)

	case BackendQdrant:
		return NewQdrantIndex(ctx, opts.Qdrant, embedder, remote, logger)

	default:
		return nil, fmt.Errorf("index: unknown backend %q", opts.Backend)
	}
}
