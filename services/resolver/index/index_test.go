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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
	"github.com/AleutianAI/apiresolver/services/resolver/embedding"
)

// namedEmbedder is a HashEmbedder with a configurable model name.
type namedEmbedder struct {
	embedding.HashEmbedder
	name  string
	calls atomic.Int32
}

func (n *namedEmbedder) Model() string { return n.name }

func (n *namedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n.calls.Add(1)
	return n.HashEmbedder.Embed(ctx, text)
}

type failingEmbedder struct{}

func (failingEmbedder) Model() string { return "down" }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("dial tcp: refused: %w", embedding.ErrUnavailable)
}

type blockingEmbedder struct{}

func (blockingEmbedder) Model() string { return "slow" }

func (blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testRecords() []catalog.EndpointRecord {
	return []catalog.EndpointRecord{
		{ID: catalog.NewRecordID(), Description: "get student attendance", URLTemplate: "/attendance/{StudentID}", ParameterNames: []string{"StudentID"}},
		{ID: catalog.NewRecordID(), Description: "list all teachers", URLTemplate: "/teachers/"},
		{ID: catalog.NewRecordID(), Description: "exam marks of a student in an exam", URLTemplate: "/marks/{StudentID}/{ExamID}", ParameterNames: []string{"StudentID", "ExamID"}},
		{ID: catalog.NewRecordID(), Description: "open the chatbot page", URLTemplate: "/bot", IsFrontend: true},
	}
}

func newMemory(t *testing.T, emb embedding.Embedder, store *BadgerStore) *MemoryIndex {
	t.Helper()
	return NewMemoryIndex(emb, MemoryOptions{Store: store}, nil)
}

func TestMemoryIndex_EmptyIsNoMatch(t *testing.T) {
	emb := &namedEmbedder{name: "m"}
	m := newMemory(t, emb, nil)

	_, err := m.Nearest(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Equal(t, int32(0), emb.calls.Load(), "empty index must not embed the query")
}

func TestMemoryIndex_Nearest(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	recs := testRecords()
	require.NoError(t, m.Add(context.Background(), recs))

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(recs), n)

	tests := []struct {
		query string
		want  string
	}{
		{"show attendance for student S002", "/attendance/{StudentID}"},
		{"list teachers", "/teachers/"},
		{"marks of student S1 in exam E4", "/marks/{StudentID}/{ExamID}"},
		{"open chatbot", "/bot"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := m.Nearest(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Record.URLTemplate)
			assert.Greater(t, got.Score, float32(0))
		})
	}

	after, _ := m.Count(context.Background())
	assert.Equal(t, n, after, "queries must not change the index")
}

func TestMemoryIndex_TieGoesToFirstInserted(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	first := catalog.EndpointRecord{ID: "a", Description: "list classrooms", URLTemplate: "/first"}
	second := catalog.EndpointRecord{ID: "b", Description: "list classrooms", URLTemplate: "/second"}
	require.NoError(t, m.Add(context.Background(), []catalog.EndpointRecord{first, second}))

	for i := 0; i < 5; i++ {
		got, err := m.Nearest(context.Background(), "list classrooms")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Record.ID)
	}
}

func TestMemoryIndex_AddFailureStoresNothing(t *testing.T) {
	m := newMemory(t, failingEmbedder{}, nil)
	err := m.Add(context.Background(), testRecords())
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrUnavailable)

	n, _ := m.Count(context.Background())
	assert.Equal(t, 0, n)
}

func TestMemoryIndex_QueryEmbeddingUnavailable(t *testing.T) {
	m := NewMemoryIndex(failingEmbedder{}, MemoryOptions{}, nil)
	m.records = testRecords()[:1]
	m.vectors = [][]float32{{1, 0}}

	_, err := m.Nearest(context.Background(), "attendance")
	assert.ErrorIs(t, err, embedding.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNoMatch)
}

func TestMemoryIndex_QueryTimeout(t *testing.T) {
	m := NewMemoryIndex(blockingEmbedder{}, MemoryOptions{QueryTimeout: 20 * time.Millisecond}, nil)
	m.records = testRecords()[:1]
	m.vectors = [][]float32{{1, 0}}

	start := time.Now()
	_, err := m.Nearest(context.Background(), "attendance")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMemoryIndex_BadgerRestore(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewBadgerStore(db, nil)
	ctx := context.Background()

	recs := testRecords()
	first := newMemory(t, &namedEmbedder{name: "model-a"}, store)
	require.NoError(t, first.Add(ctx, recs))

	emb := &namedEmbedder{name: "model-a"}
	second := newMemory(t, emb, store)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(recs), n)
	assert.Equal(t, int32(0), emb.calls.Load(), "restore must not re-embed")

	got, err := second.Nearest(ctx, "show attendance for student S002")
	require.NoError(t, err)
	assert.Equal(t, recs[0], got.Record)

	other := newMemory(t, &namedEmbedder{name: "model-b"}, store)
	n, err = other.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "vectors of another model are not comparable")
}

func TestBadgerStore_KeepsInsertionOrder(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewBadgerStore(db, nil)
	ctx := context.Background()

	var entries []storedEntry
	for i := 0; i < 12; i++ {
		entries = append(entries, storedEntry{
			Record: catalog.EndpointRecord{ID: fmt.Sprintf("r%d", i)},
			Vector: []float32{float32(i)},
		})
	}
	require.NoError(t, store.Append(ctx, "m", 0, entries[:7]))
	require.NoError(t, store.Append(ctx, "m", 7, entries[7:]))

	got, err := store.Load(ctx, "m")
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("r%d", i), e.Record.ID)
	}
}

// countingSource returns records and counts calls.
type countingSource struct {
	records []catalog.EndpointRecord
	err     error
	calls   atomic.Int32
}

func (c *countingSource) read(context.Context) ([]catalog.EndpointRecord, string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, "", c.err
	}
	return c.records, "test", nil
}

func TestLoader_Idempotent(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	src := &countingSource{records: testRecords()}
	l := NewLoader(m, src.read, nil)

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Loaded)
	assert.Equal(t, 4, res.Total)
	assert.False(t, res.Skipped)
	assert.True(t, l.Done())

	res, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(1), src.calls.Load())

	n, _ := m.Count(context.Background())
	assert.Equal(t, 4, n)
}

func TestLoader_ConcurrentCallsLoadOnce(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	src := &countingSource{records: testRecords()}
	l := NewLoader(m, src.read, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	n, _ := m.Count(context.Background())
	assert.Equal(t, 4, n)
}

func TestLoader_PopulatedIndexIsNoop(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	require.NoError(t, m.Add(context.Background(), testRecords()[:2]))

	src := &countingSource{records: testRecords()}
	res, err := NewLoader(m, src.read, nil).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestLoader_FailureCanRetry(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	src := &countingSource{err: errors.New("disk on fire")}
	l := NewLoader(m, src.read, nil)

	_, err := l.Load(context.Background())
	require.Error(t, err)
	assert.False(t, l.Done())

	src.err = nil
	src.records = testRecords()
	res, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Loaded)
	assert.True(t, l.Done())
}

func TestLoader_EmbeddedCorpus(t *testing.T) {
	m := newMemory(t, &namedEmbedder{name: "m"}, nil)
	res, err := NewLoader(m, CatalogSource(""), nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultSourceName, res.Source)
	assert.Greater(t, res.Loaded, 0)
}

func TestOpen(t *testing.T) {
	emb := &namedEmbedder{name: "m"}

	idx, err := Open(context.Background(), Options{}, emb, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, idx.Backend())
	require.NoError(t, idx.Close())

	idx, err = Open(context.Background(), Options{Backend: BackendMemory, DataDir: t.TempDir()}, emb, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), testRecords()))
	require.NoError(t, idx.Close())

	_, err = Open(context.Background(), Options{Backend: "chroma"}, emb, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{}, nil, nil)
	assert.Error(t, err)
}

func TestOpen_PersistedAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := Open(ctx, Options{DataDir: dir}, &namedEmbedder{name: "m"}, nil)
	require.NoError(t, err)
	_, err = NewLoader(idx, CatalogSource(""), nil).Load(ctx)
	require.NoError(t, err)
	want, _ := idx.Count(ctx)
	require.NoError(t, idx.Close())

	idx, err = Open(ctx, Options{DataDir: dir}, &namedEmbedder{name: "m"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	src := &countingSource{records: testRecords()}
	res, err := NewLoader(idx, src.read, nil).Load(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, want, res.Total)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestPayloadRecordRoundTrip(t *testing.T) {
	rec := testRecords()[2]
	assert.Equal(t, rec, toPayload(rec).record())

	noParams := testRecords()[1]
	assert.Equal(t, noParams, toPayload(noParams).record())
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "ApiEndpoints", className("api_endpoints"))
	assert.Equal(t, "Endpoints", className("endpoints"))
	assert.Equal(t, "MyApiV2", className("my-api.v2"))
}

func TestBadgerStore_Scan(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewBadgerStore(db, nil)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "a", 0, []storedEntry{{Record: catalog.EndpointRecord{ID: "x"}, Vector: []float32{1}}}))
	require.NoError(t, store.Append(ctx, "b", 0, []storedEntry{{Record: catalog.EndpointRecord{ID: "y"}, Vector: []float32{0, 1}}}))

	var ids []string
	require.NoError(t, store.Scan(ctx, func(e ScannedEntry) error {
		require.NoError(t, e.DecodeErr)
		assert.Greater(t, e.RawSize, 0)
		ids = append(ids, e.Record.ID)
		return nil
	}))
	assert.ElementsMatch(t, []string{"x", "y"}, ids)
}
