// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestEmbedder_Embed(t *testing.T) {
	var captured ollamaEmbedReq
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "test-embed", nil)
	vec, err := e.Embed(context.Background(), "overdue tasks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.1, 0.2, 0.3}) {
		t.Errorf("unexpected vector: %v", vec)
	}
	if captured.Model != "test-embed" || captured.Input != "overdue tasks" {
		t.Errorf("request not forwarded: %+v", captured)
	}
}

func TestEmbedder_EmptyVectorIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{})
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "m", nil)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestEmbedder_HTTPErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "m", nil)
	_, err := e.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("error should carry the service body, got %v", err)
	}
}

func TestChunkText(t *testing.T) {
	t.Run("splits on paragraphs near target", func(t *testing.T) {
		a := strings.Repeat("a", 600)
		b := strings.Repeat("b", 600)
		c := strings.Repeat("c", 100)
		chunks := chunkText(a+"\n\n"+b+"\n\n"+c, 1000)
		if len(chunks) != 2 {
			t.Fatalf("expected 2 chunks, got %d", len(chunks))
		}
		if chunks[0] != a {
			t.Error("first chunk should be the first paragraph alone")
		}
		if !strings.HasPrefix(chunks[1], b) || !strings.HasSuffix(chunks[1], c) {
			t.Error("second chunk should merge the remaining paragraphs")
		}
	})

	t.Run("oversized paragraph stays whole", func(t *testing.T) {
		big := strings.Repeat("x", 3000)
		chunks := chunkText(big, 1000)
		if len(chunks) != 1 || chunks[0] != big {
			t.Errorf("oversized paragraph must not be split, got %d chunks", len(chunks))
		}
	})

	t.Run("blank input yields nothing", func(t *testing.T) {
		if chunks := chunkText("\n\n  \n\n", 1000); len(chunks) != 0 {
			t.Errorf("expected no chunks, got %v", chunks)
		}
	})
}
