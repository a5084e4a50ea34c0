// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector provides the retrieval side of the pipeline: query
// embedding, tenant-filtered similarity search, and background document
// indexing against a Weaviate instance.
package vector

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

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embedder turns text into vectors via the Ollama /api/embed endpoint.
//
// Thread Safety: Safe for concurrent use.
type Embedder struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewEmbedder creates an embedder against the given endpoint.
//
// Inputs:
//
//	url    - Full /api/embed endpoint URL. Required.
//	model  - Embedding model name. Required.
//	logger - Optional; defaults to slog.Default().
func NewEmbedder(url, model string, logger *slog.Logger) *Embedder {
	if url == "" || model == "" {
		panic("vector: NewEmbedder requires url and model")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}
