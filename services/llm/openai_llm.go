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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// =============================================================================
// OpenAI-Compatible Wire Types
// =============================================================================

const (
	// DefaultOpenAIBaseURL is the OpenAI chat completions endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

	// DefaultGroqBaseURL is Groq's OpenAI-compatible chat completions endpoint.
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1/chat/completions"

	// DefaultGroqModel is the model the resolver was tuned against.
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

type openaiRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float32        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient implements Completer for any OpenAI-compatible chat completions
// API (OpenAI, Groq, vLLM, llama.cpp server) using raw net/http.
//
// Description:
//
//	Each Complete call sends one system message (optional) and one user
//	message containing the prompt. The first choice's content is returned
//	verbatim; callers do their own parsing.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	provider   string
	apiKey     string
	model      string
	baseURL    string
}

// NewOpenAIClientWithConfig creates an OpenAIClient with explicit configuration.
//
// Description:
//
//	provider only labels metrics and errors ("openai", "groq"). timeout is the
//	hard ceiling of a single HTTP exchange; callers may impose a shorter one
//	through ctx.
//
// Inputs:
//   - provider: Label for the backend.
//   - apiKey: Bearer token. May be empty for local servers.
//   - model: Model name (e.g., "llama-3.3-70b-versatile").
//   - baseURL: Full chat completions URL.
//   - timeout: HTTP client timeout. Zero selects 60s.
//
// Outputs:
//   - *OpenAIClient: The configured client.
func NewOpenAIClientWithConfig(provider, apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: timeout},
		provider:   provider,
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Provider implements Completer.
func (o *OpenAIClient) Provider() string { return o.provider }

// Complete implements Completer using the chat completions API.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - prompt: The user message.
//   - params: Generation parameters.
//
// Outputs:
//   - string: The assistant's response text.
//   - error: Wraps ErrBackendUnavailable on transport or transient failures.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	messages := make([]openaiMessage, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: params.SystemPrompt})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: prompt})

	reqPayload := openaiRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         params.Temperature,
		MaxCompletionTokens: params.MaxTokens,
		Stop:                params.Stop,
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("%s: marshaling request: %w", o.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("%s: creating HTTP request: %w", o.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	slog.Debug("Sending completion request",
		slog.String("provider", o.provider),
		slog.String("model", model),
		slog.Int("prompt_len", len(prompt)),
	)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(o.provider, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable(o.provider, fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(o.provider, resp.StatusCode, bodyBytes)
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("%s: parsing response JSON: %w", o.provider, err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("%s: API error: %s - %s", o.provider, apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", o.provider, ErrEmptyResponse)
	}

	slog.Debug("Received completion response",
		slog.String("provider", o.provider),
		slog.String("finish_reason", apiResp.Choices[0].FinishReason),
		slog.Int("response_len", len(apiResp.Choices[0].Message.Content)),
	)

	return apiResp.Choices[0].Message.Content, nil
}
