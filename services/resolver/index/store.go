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

// =============================================================================
// BadgerStore: Index Persistence
// =============================================================================
//
// Description vectors are computed once per corpus and embedding model. The
// store keeps them, together with their records, in BadgerDB so a restarted
// process finds a populated index and the loader has nothing to do.
//
// Storage layout:
//
//	resolver/idx/v1/{modelHash}/{seq}  →  gob-encoded storedEntry
//	                                      (record + unit-normalized vector)
//
// modelHash is the first 16 hex characters of SHA256(model). seq is the
// zero-padded insertion position, so a prefix scan returns entries in
// insertion order. Entries carry no TTL: the corpus is append-only.

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
)

const storeKeyPrefix = "resolver/idx/v1/"

// storedEntry is the persisted form of one index row.
type storedEntry struct {
	Record catalog.EndpointRecord
	Vector []float32
}

// OpenBadger opens a BadgerDB at dir. An empty dir opens an in-memory DB.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// OpenBadgerReadOnly opens an existing BadgerDB at dir for inspection.
func OpenBadgerReadOnly(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil).WithReadOnly(true))
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// BadgerStore persists index entries.
//
// # Thread Safety
//
// Safe for concurrent use. The caller owns the DB lifecycle.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore wraps an opened DB. db must not be nil.
func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

// Load returns the entries stored for model in insertion order. An empty
// result with a nil error means nothing is stored.
func (s *BadgerStore) Load(ctx context.Context, model string) ([]storedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := modelPrefix(model)

	var entries []storedEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value: %w", err)
			}
			var e storedEntry
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index store load: %w", err)
	}

	s.logger.Debug("index store: loaded",
		slog.String("model", model),
		slog.Int("entries", len(entries)),
	)
	return entries, nil
}

// Append writes entries for model starting at insertion position start.
func (s *BadgerStore) Append(ctx context.Context, model string, start int, entries []storedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, e := range entries {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(e); err != nil {
			return fmt.Errorf("index store encode: %w", err)
		}
		if err := wb.Set(entryKey(model, start+i), buf.Bytes()); err != nil {
			return fmt.Errorf("index store set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("index store flush: %w", err)
	}

	s.logger.Debug("index store: appended",
		slog.String("model", model),
		slog.Int("entries", len(entries)),
		slog.Int("start", start),
	)
	return nil
}

// ScannedEntry is one persisted row as seen by Scan.
type ScannedEntry struct {
	Key       string
	Record    catalog.EndpointRecord
	Vector    []float32
	RawSize   int
	DecodeErr error
}

// Scan calls fn for every persisted entry of every model, in key order.
// Entries that fail to decode are passed with DecodeErr set.
func (s *BadgerStore) Scan(ctx context.Context, fn func(ScannedEntry) error) error {
	prefix := []byte(storeKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			se := ScannedEntry{Key: string(item.KeyCopy(nil))}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				se.DecodeErr = fmt.Errorf("copy value: %w", err)
			} else {
				se.RawSize = len(raw)
				var e storedEntry
				if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
					se.DecodeErr = fmt.Errorf("gob decode: %w", err)
				} else {
					se.Record, se.Vector = e.Record, e.Vector
				}
			}
			if err := fn(se); err != nil {
				return err
			}
		}
		return nil
	})
}

func modelPrefix(model string) []byte {
	h := sha256.Sum256([]byte(model))
	return []byte(storeKeyPrefix + hex.EncodeToString(h[:])[:16] + "/")
}

func entryKey(model string, seq int) []byte {
	return append(modelPrefix(model), []byte(fmt.Sprintf("%010d", seq))...)
}
