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
	"strings"
	"testing"
	"time"
)

func TestOpenAIClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != DefaultGroqModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultGroqModel)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openaiResponse{
			ID: "chatcmpl-1",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: `{"StudentID": "S002"}`},
				FinishReason: "stop",
			}},
		})
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(ProviderGroq, "test-key", DefaultGroqModel, server.URL, 5*time.Second)
	out, err := client.Complete(context.Background(), "extract", GenerationParams{
		Temperature:  Float32(0),
		SystemPrompt: "json only",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"StudentID": "S002"}` {
		t.Errorf("out = %q", out)
	}
	if client.Provider() != "groq" {
		t.Errorf("Provider() = %q, want groq", client.Provider())
	}
}

func TestOpenAIClient_Complete_NoSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("expected single user message, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}}})
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig("", "", "m", server.URL, 0)
	if _, err := client.Complete(context.Background(), "p", GenerationParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Provider() != "openai" {
		t.Errorf("default provider = %q, want openai", client.Provider())
	}
}

func TestOpenAIClient_Complete_StatusClassification(t *testing.T) {
	tests := []struct {
		status      int
		unavailable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"bad key gsk_abcdefghijklmnopqrstuvwxyz"}}`))
			}))
			defer server.Close()

			client := NewOpenAIClientWithConfig(ProviderGroq, "k", "m", server.URL, time.Second)
			_, err := client.Complete(context.Background(), "p", GenerationParams{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrBackendUnavailable); got != tt.unavailable {
				t.Errorf("errors.Is(ErrBackendUnavailable) = %v, want %v (err: %v)", got, tt.unavailable, err)
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError in chain, got %v", err)
			}
			if se.Code != tt.status || se.Provider != ProviderGroq {
				t.Errorf("StatusError = {%q %d}, want {%q %d}", se.Provider, se.Code, ProviderGroq, tt.status)
			}
			if strings.Contains(err.Error(), "gsk_abcdefghijklmnopqrstuvwxyz") {
				t.Errorf("error leaks API key: %v", err)
			}
		})
	}
}

func TestOpenAIClient_Complete_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewOpenAIClientWithConfig(ProviderOpenAI, "k", "m", url, time.Second)
	_, err := client.Complete(context.Background(), "p", GenerationParams{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestOpenAIClient_Complete_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewOpenAIClientWithConfig(ProviderOpenAI, "k", "m", server.URL, 5*time.Second)
	_, err := client.Complete(ctx, "p", GenerationParams{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded in chain, got %v", err)
	}
}

func TestOpenAIClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(ProviderOpenAI, "k", "m", server.URL, time.Second)
	_, err := client.Complete(context.Background(), "p", GenerationParams{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("empty response must not count as unavailability")
	}
}

func TestOpenAIClient_Complete_APIErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"nope"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(ProviderOpenAI, "k", "m", server.URL, time.Second)
	_, err := client.Complete(context.Background(), "p", GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "invalid_request_error") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestOpenAIClient_Complete_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "override" {
			t.Errorf("model = %q, want override", req.Model)
		}
		if req.MaxCompletionTokens == nil || *req.MaxCompletionTokens != 64 {
			t.Errorf("max tokens = %v, want 64", req.MaxCompletionTokens)
		}
		json.NewEncoder(w).Encode(openaiResponse{Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}}})
	}))
	defer server.Close()

	client := NewOpenAIClientWithConfig(ProviderOpenAI, "k", "base", server.URL, time.Second)
	if _, err := client.Complete(context.Background(), "p", GenerationParams{ModelOverride: "override", MaxTokens: Int(64)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
