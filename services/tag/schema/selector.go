// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema narrows a tenant database down to the tables relevant to one
// query, then renders a compact column excerpt for prompt assembly. Pushing
// the whole catalog into the statement-generation prompt both wastes tokens
// and measurably degrades generation quality, so selection is a hard stage.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTAG/services/llm"
	"github.com/AleutianAI/AleutianTAG/services/tag/config"
)

// Catalog exposes the database introspection the selector needs.
type Catalog interface {
	AllTables(ctx context.Context, dsn string) ([]string, error)
	SchemaExcerpt(ctx context.Context, dsn string, tables []string) (string, error)
}

// Selection is the outcome of table selection for one query.
type Selection struct {
	// Tables is the chosen subset of the tenant catalog, never empty on
	// success.
	Tables []string

	// Excerpt is the "table(col type, ...)" listing for Tables.
	Excerpt string

	// Known is the full tenant catalog, used downstream as the statement
	// validator's table allow-list.
	Known []string
}

// Selector picks relevant tables via layered strategies.
//
// Description:
//
//	Three strategies run in order until one yields tables:
//	  1. Deterministic keyword rules from config (no model call).
//	  2. A model call restricted to the known table list; names the model
//	     invents are discarded, so it can narrow the choice but never
//	     widen it.
//	  3. A fixed-size prefix of the catalog, so generation always has a
//	     schema to work from.
//
// Thread Safety: Safe for concurrent use.
type Selector struct {
	catalog Catalog
	chat    llm.ChatClient
	rules   *config.RoutingRules
	logger  *slog.Logger
}

// NewSelector creates a selector.
//
// Inputs:
//
//	catalog - Required. Panics if nil.
//	chat    - Optional; when nil the model fallback is skipped.
//	rules   - Optional; defaults to the embedded rule set.
//	logger  - Optional; defaults to slog.Default().
func NewSelector(catalog Catalog, chat llm.ChatClient, rules *config.RoutingRules, logger *slog.Logger) *Selector {
	if catalog == nil {
		panic("schema: NewSelector requires a catalog")
	}
	if rules == nil {
		rules = config.DefaultRoutingRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{catalog: catalog, chat: chat, rules: rules, logger: logger}
}

const selectorPrompt = `You are selecting database tables relevant to a user request.
Known tables:
%s

User request: %s

Reply with a comma-separated list of table names from the known tables only. No explanation.`

// Select chooses tables for query against the database at dsn.
//
// Outputs:
//
//	*Selection - Tables plus their column excerpt.
//	error      - Non-nil when the catalog cannot be read or is empty.
func (s *Selector) Select(ctx context.Context, dsn, query string) (*Selection, error) {
	all, err := s.catalog.AllTables(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("tenant database has no tables")
	}

	tables := s.rules.SelectTables(query, all)
	if len(tables) == 0 {
		tables = s.modelSelect(ctx, query, all)
	}
	if len(tables) == 0 {
		n := s.rules.MaxSchemaTables
		if n > len(all) {
			n = len(all)
		}
		tables = all[:n]
		s.logger.Debug("table selection fell back to catalog prefix", "tables", len(tables))
	}

	excerpt, err := s.catalog.SchemaExcerpt(ctx, dsn, tables)
	if err != nil {
		return nil, fmt.Errorf("render schema excerpt: %w", err)
	}
	return &Selection{Tables: tables, Excerpt: excerpt, Known: all}, nil
}

// modelSelect asks the model to pick from the known list. Failures and
// hallucinated names degrade to an empty result, never to an error.
func (s *Selector) modelSelect(ctx context.Context, query string, all []string) []string {
	if s.chat == nil {
		return nil
	}

	res, err := s.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(selectorPrompt, strings.Join(all, ", "), query)},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		s.logger.Warn("model table selection failed", "error", err)
		return nil
	}

	known := make(map[string]string, len(all))
	for _, t := range all {
		known[strings.ToLower(t)] = t
	}

	var tables []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(res.Text, ",") {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(part), "`\"' ."))
		canonical, ok := known[name]
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		tables = append(tables, canonical)
	}
	return tables
}
