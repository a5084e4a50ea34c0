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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var searchTracer = otel.Tracer("aleutian.tag.vector")

// DocumentClass is the Weaviate class holding indexed tenant documents.
const DocumentClass = "TagDocument"

// defaultSearchLimit bounds how many chunks one retrieval pulls into the
// answer prompt.
const defaultSearchLimit = 5

// Document is one retrieved chunk with its similarity score.
type Document struct {
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Certainty float64 `json:"certainty"`
}

// weaviateDocResponse is the typed shape of the GraphQL Get response.
type weaviateDocResponse struct {
	Get struct {
		TagDocument []struct {
			Content    string `json:"content"`
			Source     string `json:"source"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"TagDocument"`
	} `json:"Get"`
}

// Searcher runs tenant-filtered similarity search.
//
// Description:
//
//	The query is embedded locally and sent as a nearVector search; results
//	are always filtered by company_id server-side so one tenant's documents
//	can never surface in another tenant's answers, regardless of vector
//	similarity.
//
// Thread Safety: Safe for concurrent use.
type Searcher struct {
	client   *weaviate.Client
	embedder *Embedder
	logger   *slog.Logger
}

// NewSearcher creates a searcher.
//
// Inputs:
//
//	client   - Required. Panics if nil.
//	embedder - Required. Panics if nil.
//	logger   - Optional; defaults to slog.Default().
func NewSearcher(client *weaviate.Client, embedder *Embedder, logger *slog.Logger) *Searcher {
	if client == nil {
		panic("vector: NewSearcher requires a weaviate client")
	}
	if embedder == nil {
		panic("vector: NewSearcher requires an embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{client: client, embedder: embedder, logger: logger}
}

// Search returns the top chunks for query within one company's documents.
//
// Outputs:
//
//	[]Document - Best matches, highest certainty first (Weaviate order).
//	             Empty when nothing is indexed for the tenant.
//	error      - Non-nil on embedding or search failure.
func (s *Searcher) Search(ctx context.Context, query string, companyID int64, limit int) ([]Document, error) {
	ctx, span := searchTracer.Start(ctx, "vector.Search")
	defer span.End()
	span.SetAttributes(attribute.Int64("company_id", companyID))

	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	where := filters.Where().
		WithPath([]string{"company_id"}).
		WithOperator(filters.Equal).
		WithValueInt(companyID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	result, err := s.client.GraphQL().Get().
		WithClassName(DocumentClass).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(limit).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vector search: %s", result.Errors[0].Message)
	}

	// Marshal to JSON and back for a typed view of the GraphQL payload.
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal search response: %w", err)
	}
	var typed weaviateDocResponse
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	docs := make([]Document, 0, len(typed.Get.TagDocument))
	for _, d := range typed.Get.TagDocument {
		docs = append(docs, Document{
			Content:   d.Content,
			Source:    d.Source,
			Certainty: d.Additional.Certainty,
		})
	}
	s.logger.Debug("vector search complete", "company_id", companyID, "hits", len(docs))
	return docs, nil
}
