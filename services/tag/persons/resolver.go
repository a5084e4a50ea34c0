// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persons grounds person names mentioned in a request to database
// ids before statement generation. Generated statements that guess at ids
// are the single worst failure mode of the pipeline, so names are resolved
// up front and the ids handed to the generator as facts.
package persons

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// IDLookup finds candidate user ids for a first name within one company.
type IDLookup interface {
	LookupPersonIDs(ctx context.Context, dsn, name string, companyID int64, limit int) ([]int64, error)
}

// maxCandidates bounds how many ids one name may resolve to. More than a
// handful means the name is too ambiguous to be useful in a prompt.
const maxCandidates = 5

// Resolver extracts person names from a query and maps them to ids.
//
// Description:
//
//	A model call extracts candidate names; each extracted name is checked
//	against the query text case-insensitively before any lookup runs, so
//	the model can surface names but never invent them. Resolution is
//	strictly best-effort: every failure path yields an empty map and the
//	pipeline continues without person grounding.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	chat   llm.ChatClient
	lookup IDLookup
	logger *slog.Logger
}

// NewResolver creates a resolver.
//
// Inputs:
//
//	chat   - Required. Panics if nil.
//	lookup - Required. Panics if nil.
//	logger - Optional; defaults to slog.Default().
func NewResolver(chat llm.ChatClient, lookup IDLookup, logger *slog.Logger) *Resolver {
	if chat == nil {
		panic("persons: NewResolver requires a chat client")
	}
	if lookup == nil {
		panic("persons: NewResolver requires an id lookup")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{chat: chat, lookup: lookup, logger: logger}
}

const extractPrompt = `Extract the first names of people mentioned in this request.
Reply with a comma-separated list of first names, or the single word NONE.

Request: %s`

// Resolve maps person names in query to user ids for the given tenant.
//
// Outputs:
//
//	map[string][]int64 - Name to candidate ids; empty (never nil) when no
//	                     names resolve or any step fails.
func (r *Resolver) Resolve(ctx context.Context, dsn, query string, companyID int64) map[string][]int64 {
	resolved := make(map[string][]int64)

	res, err := r.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(extractPrompt, query)},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: 100})
	if err != nil {
		r.logger.Warn("person extraction failed", "error", err)
		return resolved
	}

	lowerQuery := strings.ToLower(query)
	for _, name := range splitNames(res.Text) {
		// Guardrail: only look up names actually present in the query.
		if !strings.Contains(lowerQuery, strings.ToLower(name)) {
			r.logger.Debug("discarding extracted name not present in query", "name", name)
			continue
		}
		ids, err := r.lookup.LookupPersonIDs(ctx, dsn, name, companyID, maxCandidates)
		if err != nil {
			r.logger.Warn("person lookup failed", "name", name, "error", err)
			continue
		}
		if len(ids) > 0 {
			resolved[name] = ids
		}
	}
	return resolved
}

func splitNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "NONE") {
		return nil
	}
	var names []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.Trim(strings.TrimSpace(part), "`\"'.")
		if name == "" || strings.EqualFold(name, "NONE") {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}
