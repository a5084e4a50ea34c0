// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the chat-completion client used by every pipeline
// stage that performs classification, rewriting, SQL synthesis, or final
// phrasing. It speaks the OpenAI-compatible Chat Completions REST API
// directly over net/http without third-party SDKs, which keeps the same
// client usable against OpenAI, Groq, Ollama, and any other compatible
// gateway just by changing the base URL.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "aleutian.tag.llm"

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// TokenUsage reports the token accounting of one or more completions.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatOptions holds per-call options.
type ChatOptions struct {
	// Temperature controls randomness (0.0-1.0). Set to a negative value
	// to omit from the request and use the provider's default. The Go zero
	// value (0.0) is treated as an explicit "most deterministic" setting.
	Temperature float64

	// MaxTokens caps the response length. Zero omits the cap.
	MaxTokens int
}

// ChatResult is the assistant's reply plus its token accounting.
type ChatResult struct {
	Text  string
	Usage TokenUsage
}

// ChatClient is the minimal interface every pipeline stage depends on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout. An abandoned inbound
	//     request must be able to stop an in-flight completion.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Per-call options.
	//
	// Outputs:
	//   - *ChatResult: Response text and token usage.
	//   - error: Non-nil on transport or API failure.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error)
}

// =============================================================================
// Wire Types
// =============================================================================

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   TokenUsage   `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// Client implements ChatClient for OpenAI-compatible endpoints.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient creates a Client with explicit configuration.
//
// Inputs:
//
//	apiKey  - Bearer token. May be empty for local gateways (Ollama).
//	model   - Model name sent with every request.
//	baseURL - Full URL of the chat completions endpoint, e.g.
//	          "https://api.openai.com/v1/chat/completions".
//
// Outputs:
//
//	*Client - The configured client. Never nil.
func NewClient(apiKey, model, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Chat implements ChatClient against the configured endpoint.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.Client.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", c.model),
		attribute.Int("message_count", len(messages)),
	)

	reqBody := chatRequest{Model: c.model, Messages: messages}
	if opts.Temperature >= 0 {
		t := opts.Temperature
		reqBody.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		m := opts.MaxTokens
		reqBody.MaxTokens = &m
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat request failed")
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		span.SetStatus(codes.Error, "api error")
		return nil, fmt.Errorf("chat API status %d: %s", resp.StatusCode, msg)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat API returned no choices")
	}

	span.SetAttributes(attribute.Int("total_tokens", parsed.Usage.TotalTokens))
	return &ChatResult{
		Text:  parsed.Choices[0].Message.Content,
		Usage: parsed.Usage,
	}, nil
}
