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
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Normalize returns a unit-length copy of v, or nil for a zero vector.
// Stored vectors are unit-normalized so cosine similarity is a dot product.
func Normalize(v []float32) []float32 {
	norm := L2Norm(v)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// L2Norm computes the Euclidean norm of v.
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot computes the dot product of a and b. Mismatched lengths use the shorter.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// =============================================================================
// Hashing embedder
// =============================================================================

// HashEmbedder is a deterministic bag-of-words embedder that needs no
// service. Each lower-cased token is hashed into one of Dim buckets.
//
// It gives lexical rather than semantic matching and exists for offline
// development and tests.
type HashEmbedder struct {
	Dim int
}

// DefaultHashDim is the bucket count used when Dim is zero.
const DefaultHashDim = 256

// Model implements Embedder.
func (h HashEmbedder) Model() string { return "hash-bow" }

// Embed implements Embedder.
func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultHashDim
	}
	vec := make([]float32, dim)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[int(f.Sum32()%uint32(dim))] += 1
	}
	return vec, nil
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
