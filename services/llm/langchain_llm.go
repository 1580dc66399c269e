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
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChainClient adapts any langchaingo llms.Model to Completer.
//
// Description:
//
//	Used for local Ollama models, where langchaingo handles the native
//	/api/chat protocol and JSON output mode. Errors from the model call are
//	reported as unavailability: langchaingo surfaces transport and server
//	failures through the same path, and malformed output is detected later
//	by the caller's parser, not here.
//
// Thread Safety: Safe for concurrent use if the wrapped model is.
type LangChainClient struct {
	model    llms.Model
	provider string
}

// NewLangChainClient wraps an existing langchaingo model.
func NewLangChainClient(provider string, model llms.Model) *LangChainClient {
	return &LangChainClient{model: model, provider: provider}
}

// NewOllamaClient builds a LangChainClient backed by a local Ollama server
// with JSON output mode enabled.
//
// Inputs:
//   - serverURL: Ollama root URL (e.g., "http://localhost:11434").
//   - model: Model tag (e.g., "llama3.1").
func NewOllamaClient(serverURL, model string) (*LangChainClient, error) {
	opts := []ollama.Option{
		ollama.WithModel(model),
		ollama.WithFormat("json"),
	}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: creating client: %w", err)
	}
	return NewLangChainClient("ollama", m), nil
}

// Provider implements Completer.
func (l *LangChainClient) Provider() string { return l.provider }

// Complete implements Completer.
func (l *LangChainClient) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, params.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	if params.ModelOverride != "" {
		opts = append(opts, llms.WithModel(params.ModelOverride))
	}

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", unavailable(l.provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%s: %w", l.provider, ErrEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}
