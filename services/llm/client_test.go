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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Chat(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "SQL"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13},
		})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model", server.URL)
	res, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "classify"}}, ChatOptions{Temperature: 0, MaxTokens: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "SQL" {
		t.Errorf("expected text SQL, got %q", res.Text)
	}
	if res.Usage.TotalTokens != 13 {
		t.Errorf("expected 13 total tokens, got %d", res.Usage.TotalTokens)
	}

	if captured.Model != "test-model" {
		t.Errorf("model not forwarded: %q", captured.Model)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Error("zero temperature must be sent explicitly, not omitted")
	}
	if captured.MaxTokens == nil || *captured.MaxTokens != 50 {
		t.Error("max_tokens not forwarded")
	}
}

func TestClient_Chat_NegativeTemperatureOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, present := req["temperature"]; present {
			t.Error("negative temperature must be omitted from the request")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer server.Close()

	c := NewClient("", "m", server.URL)
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, ChatOptions{Temperature: -1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit", "message": "slow down"},
		})
	}))
	defer server.Close()

	c := NewClient("k", "m", server.URL)
	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected error on API failure")
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error should carry the API message: %v", err)
	}
}

func TestClient_Chat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	c := NewClient("k", "m", server.URL)
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, ChatOptions{}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestClient_Chat_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// The handler must not block on r.Context(): a handler that
		// neither reads nor writes never observes the client going away,
		// and server.Close waits on it. The test releases it explicitly.
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient("k", "m", server.URL)

	done := make(chan error, 1)
	go func() {
		_, err := c.Chat(ctx, []Message{{Role: "user", Content: "x"}}, ChatOptions{})
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestTokenUsage_Add(t *testing.T) {
	var u TokenUsage
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	u.Add(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if u.PromptTokens != 11 || u.CompletionTokens != 7 || u.TotalTokens != 18 {
		t.Errorf("unexpected accumulation: %+v", u)
	}
}
