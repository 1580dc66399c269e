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
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOllamaServer returns a deterministic vector derived from the input length.
func mockOllamaServer(t *testing.T, dim int, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			http.Error(w, "simulated failure", status)
			return
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(len(req.Input)%dim+1) * float32(i+1)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv, calls := mockOllamaServer(t, 8, http.StatusOK)
	e := NewOllamaEmbedder(srv.URL, "test-model", time.Second, nil)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "test-model", e.Model())
}

func TestOllamaEmbedder_Defaults(t *testing.T) {
	e := NewOllamaEmbedder("", "", 0, nil)
	assert.Equal(t, DefaultOllamaEmbedURL, e.url)
	assert.Equal(t, DefaultOllamaEmbedModel, e.Model())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv, _ := mockOllamaServer(t, 8, http.StatusInternalServerError)
	e := NewOllamaEmbedder(srv.URL, "m", time.Second, nil)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv, _ := mockOllamaServer(t, 8, http.StatusOK)
	url := srv.URL
	srv.Close()

	e := NewOllamaEmbedder(url, "m", time.Second, nil)
	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestOllamaEmbedder_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "m", time.Second, nil)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestNormalizeAndDot(t *testing.T) {
	v := Normalize([]float32{3, 4})
	require.Len(t, v, 2)
	assert.InDelta(t, 1.0, L2Norm(v), 1e-6)
	assert.InDelta(t, 1.0, float64(Dot(v, v)), 1e-6)
	assert.Nil(t, Normalize([]float32{0, 0}))
	assert.Equal(t, float32(3), Dot([]float32{1, 1, 1}, []float32{1, 2}))
}

func TestHashEmbedder(t *testing.T) {
	h := HashEmbedder{Dim: 256}
	a, err := h.Embed(context.Background(), "Get student attendance")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "attendance of a student, please")
	require.NoError(t, err)
	c, err := h.Embed(context.Background(), "list exams")
	require.NoError(t, err)

	simAB := Dot(Normalize(a), Normalize(b))
	simAC := Dot(Normalize(a), Normalize(c))
	assert.Greater(t, simAB, simAC)
	assert.False(t, math.IsNaN(float64(simAB)))

	again, _ := h.Embed(context.Background(), "Get student attendance")
	assert.Equal(t, a, again)
}

func TestHashEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HashEmbedder{}.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"show", "attendance", "for", "s002"}, Tokenize("Show attendance, for S002!"))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	got := truncate("ab€cd", 4)
	assert.Equal(t, "ab...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "abc", truncate("abc", 4))
}
