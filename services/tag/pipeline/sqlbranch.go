// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTAG/services/llm"
	"github.com/AleutianAI/AleutianTAG/services/tag/cache"
	"github.com/AleutianAI/AleutianTAG/services/tag/sqlsafety"
	"github.com/AleutianAI/AleutianTAG/services/tag/toon"
)

// defaultPageLimit bounds the preview window when the tenant sets none.
const defaultPageLimit = 20

// ===== Select =====

// selectTables narrows the tenant catalog for statement generation.
//
// Reads: Rewritten, Tenant. Writes: Tables, Excerpt, Known, Err.
func (m *Machine) selectTables(ctx context.Context, s *State) outcome {
	sel, err := m.selector.Select(ctx, s.Tenant.DSN, s.Rewritten)
	if err != nil {
		// Catalog unreachable; nothing to generate against.
		s.Err = &StageError{Kind: ErrKindSchema, Message: err.Error()}
		stageFailuresTotal.WithLabelValues(ErrKindSchema).Inc()
		return outcomeFailed
	}
	s.Tables = sel.Tables
	s.Excerpt = sel.Excerpt
	s.Known = sel.Known
	return outcomeOK
}

// ===== Synthesize =====

// synthReply is the structured shape expected from the generation model.
type synthReply struct {
	Type    string `json:"type"`
	Query   string `json:"query"`
	Message string `json:"message"`
}

// synthesize produces a candidate statement or a clarification.
//
// Reads: Rewritten, Excerpt, Tenant, Err (prior attempt), RetryCount.
// Writes: SQL, SQLCached, Persons, RetryCount, Err, Answer, Usage.
//
// On the first error-free attempt a cache hit skips name resolution and
// the model call outright. Every generated statement consumes one unit of
// retry budget; a clarification resets the budget and terminates the
// branch via the no-op sentinel.
func (m *Machine) synthesize(ctx context.Context, s *State) outcome {
	key := cache.QueryKey(s.Tenant.CompanyID, s.Tenant.UserID, s.Tenant.Role, s.Rewritten)

	if s.RetryCount == 0 && s.Err == nil && m.cache != nil {
		if cached, ok := m.cache.Get(ctx, key); ok {
			s.SQL = string(cached)
			s.SQLCached = true
			return outcomeOK
		}
	}

	if m.persons != nil {
		s.Persons = m.persons.Resolve(ctx, s.Tenant.DSN, s.Rewritten, s.Tenant.CompanyID)
	}

	prompt := m.buildSynthesisPrompt(s)
	res, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: 500})
	if err != nil {
		// A transport failure still consumes budget, or a flapping model
		// could loop forever.
		s.RetryCount++
		s.Err = &StageError{Kind: ErrKindSynthesis, Message: err.Error()}
		return m.gate(s)
	}
	s.Usage.Add(res.Usage)

	reply := parseSynthesisReply(res.Text)
	if reply.Type == "text" {
		s.Err = nil
		s.RetryCount = 0
		s.SQL = SkipSQL
		s.SQLCached = false
		s.Answer = reply.Message
		s.Clarification = true
		return outcomeSkip
	}

	statement := reply.Query
	if s.Tenant.Role != SuperAdminRole {
		statement = sqlsafety.EnsureTenantFilter(statement, s.Tenant.CompanyID)
	}
	statement = sqlsafety.FixPlaceholders(statement, s.Tenant.UserID, s.Tenant.CompanyID)

	firstAttempt := s.Err == nil
	s.SQL = statement
	s.SQLCached = false
	s.RetryCount++

	// Never cache an error-recovery attempt; only statements generated
	// cleanly on the first pass are worth replaying.
	if firstAttempt && m.cache != nil {
		m.cache.Set(ctx, key, []byte(statement))
	}
	return outcomeOK
}

func (m *Machine) buildSynthesisPrompt(s *State) string {
	var security string
	if s.Tenant.Role == SuperAdminRole {
		security = fmt.Sprintf(synthesizeRLSExempt, s.Tenant.UserID, s.Tenant.Role)
	} else {
		security = fmt.Sprintf(synthesizeRLS,
			s.Tenant.UserID, s.Tenant.CompanyID, s.Tenant.Role, s.Tenant.CompanyID)
	}

	var personsBlock string
	if len(s.Persons) > 0 {
		var b strings.Builder
		for name, ids := range s.Persons {
			fmt.Fprintf(&b, "  %s: %v\n", name, ids)
		}
		personsBlock = fmt.Sprintf(synthesizePersons, b.String())
	}

	var retryBlock string
	if s.Err != nil {
		retryBlock = fmt.Sprintf(synthesizeRetry, s.Err.Message)
	}

	return fmt.Sprintf(synthesizePrompt, s.Excerpt, security, personsBlock, retryBlock, s.Rewritten)
}

// parseSynthesisReply accepts the structured JSON contract and degrades
// for legacy unstructured replies: a leading SQL keyword means a
// statement, anything else is clarification text.
func parseSynthesisReply(raw string) synthReply {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var reply synthReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err == nil {
		switch reply.Type {
		case "sql":
			if strings.TrimSpace(reply.Query) != "" {
				return synthReply{Type: "sql", Query: strings.TrimSpace(reply.Query)}
			}
		case "text":
			return synthReply{Type: "text", Message: reply.Message}
		}
	}

	upper := strings.ToUpper(cleaned)
	for _, kw := range []string{"SELECT", "INSERT", "UPDATE", "WITH"} {
		if strings.HasPrefix(upper, kw) {
			return synthReply{Type: "sql", Query: cleaned}
		}
	}
	return synthReply{Type: "text", Message: cleaned}
}

// ===== Validate =====

// validate structurally inspects the candidate statement.
//
// Reads: SQL, Known. Writes: Err.
func (m *Machine) validate(ctx context.Context, s *State) outcome {
	if s.SQL == SkipSQL {
		return outcomeOK
	}

	v := sqlsafety.NewValidator(s.Known, m.logger)
	if !v.Validate(s.SQL) {
		s.Err = &StageError{
			Kind:    ErrKindValidation,
			Message: "statement rejected: destructive operation or unknown table",
		}
		return m.gate(s)
	}
	s.Err = nil
	return outcomeOK
}

// ===== Execute =====

// execute runs the validated statement and windows the result.
//
// Reads: SQL, Tenant. Writes: Exec, Compression, Err.
func (m *Machine) execute(ctx context.Context, s *State) outcome {
	rows, err := m.db.Run(ctx, s.Tenant.DSN, s.SQL)
	if err != nil {
		s.Err = &StageError{Kind: ErrKindExecution, Message: err.Error()}
		return m.gate(s)
	}

	raw := len(rows)
	total := m.db.Total(ctx, s.Tenant.DSN, s.SQL, int64(raw))

	limit := s.Tenant.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	page := s.Tenant.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start > raw {
		start = raw
	}
	end := start + limit
	if end > raw {
		end = raw
	}

	// Compression metrics over the full result, for observability only.
	if enc, encErr := toon.Encode(rows); encErr == nil {
		s.Compression = &enc.Meta
	}

	s.Exec = &ExecResult{
		TotalCount:  total,
		Preview:     rows[start:end],
		RawRowCount: raw,
	}
	return outcomeOK
}
