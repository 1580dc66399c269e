// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnthropicClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.MaxTokens != anthropicDefaultMaxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, anthropicDefaultMaxTokens)
		}
		if req.System != "sys" {
			t.Errorf("system = %q, want sys", req.System)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Type: "message",
			Content: []anthropicContent{
				{Type: "text", Text: `{"1":"a",`},
				{Type: "text", Text: `"2":"b","3":"c"}`},
			},
		})
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude", server.URL, time.Second)
	out, err := client.Complete(context.Background(), "p", GenerationParams{SystemPrompt: "sys"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"1":"a","2":"b","3":"c"}` {
		t.Errorf("out = %q", out)
	}
}

func TestAnthropicClient_Complete_Overloaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "claude", server.URL, time.Second)
	_, err := client.Complete(context.Background(), "p", GenerationParams{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestAnthropicClient_Complete_NoTextBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"message","content":[{"type":"thinking"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("k", "claude", server.URL, time.Second)
	_, err := client.Complete(context.Background(), "p", GenerationParams{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}
