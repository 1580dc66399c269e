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
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider names accepted by NewCompleter.
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Config selects and configures a completion backend.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// NewCompleter builds the configured backend and wraps it with Instrument.
//
// # Description
//
// Empty Model and BaseURL fall back to per-provider defaults. Hosted
// providers require an API key; ollama does not.
//
// # Outputs
//
//   - Completer: Instrumented backend. Never nil on success.
//   - error: Non-nil for an unknown provider or a missing API key.
func NewCompleter(cfg Config, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGroq
	}

	requireKey := func() error {
		if cfg.APIKey == "" {
			return fmt.Errorf("%s: API key is missing", provider)
		}
		return nil
	}

	var c Completer
	switch provider {
	case ProviderGroq, ProviderOpenAI:
		if err := requireKey(); err != nil {
			return nil, err
		}
		model, baseURL := cfg.Model, cfg.BaseURL
		if provider == ProviderGroq {
			model = orDefault(model, DefaultGroqModel)
			baseURL = orDefault(baseURL, DefaultGroqBaseURL)
		} else {
			model = orDefault(model, "gpt-4o-mini")
			baseURL = orDefault(baseURL, DefaultOpenAIBaseURL)
		}
		c = NewOpenAIClientWithConfig(provider, cfg.APIKey, model, baseURL, cfg.Timeout)
		cfg.Model = model

	case ProviderAnthropic:
		if err := requireKey(); err != nil {
			return nil, err
		}
		cfg.Model = orDefault(cfg.Model, "claude-3-5-haiku-latest")
		c = NewAnthropicClientWithConfig(cfg.APIKey, cfg.Model, orDefault(cfg.BaseURL, DefaultAnthropicBaseURL), cfg.Timeout)

	case ProviderGemini:
		if err := requireKey(); err != nil {
			return nil, err
		}
		cfg.Model = orDefault(cfg.Model, "gemini-1.5-flash")
		c = NewGeminiClientWithConfig(cfg.APIKey, cfg.Model, orDefault(cfg.BaseURL, DefaultGeminiBaseURL), cfg.Timeout)

	case ProviderOllama:
		cfg.Model = orDefault(cfg.Model, "llama3.1")
		oc, err := NewOllamaClient(cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		c = oc

	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	logger.Info("Initialized completion backend",
		slog.String("provider", provider),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
	)
	return Instrument(c, cfg.Timeout), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
