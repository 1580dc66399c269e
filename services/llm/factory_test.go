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
	"strings"
	"testing"
	"time"
)

func TestNewCompleter_Providers(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider string
	}{
		{"default is groq", Config{APIKey: "k"}, "groq"},
		{"openai", Config{Provider: "openai", APIKey: "k"}, "openai"},
		{"anthropic", Config{Provider: "Anthropic", APIKey: "k"}, "anthropic"},
		{"gemini", Config{Provider: "gemini", APIKey: "k"}, "gemini"},
		{"ollama needs no key", Config{Provider: "ollama", BaseURL: "http://localhost:11434"}, "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Timeout = time.Second
			c, err := NewCompleter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Provider() != tt.provider {
				t.Errorf("Provider() = %q, want %q", c.Provider(), tt.provider)
			}
			if _, ok := c.(*instrumented); !ok {
				t.Errorf("expected instrumented completer, got %T", c)
			}
		})
	}
}

func TestNewCompleter_GroqDefaults(t *testing.T) {
	c, err := NewCompleter(Config{APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oc, ok := c.(*instrumented).next.(*OpenAIClient)
	if !ok {
		t.Fatalf("expected *OpenAIClient, got %T", c.(*instrumented).next)
	}
	if oc.model != DefaultGroqModel || oc.baseURL != DefaultGroqBaseURL {
		t.Errorf("model/baseURL = %q %q", oc.model, oc.baseURL)
	}
}

func TestNewCompleter_MissingKey(t *testing.T) {
	for _, p := range []string{"groq", "openai", "anthropic", "gemini"} {
		_, err := NewCompleter(Config{Provider: p}, nil)
		if err == nil || !strings.Contains(err.Error(), "API key") {
			t.Errorf("%s: expected missing key error, got %v", p, err)
		}
	}
}

func TestNewCompleter_UnknownProvider(t *testing.T) {
	_, err := NewCompleter(Config{Provider: "watson", APIKey: "k"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
