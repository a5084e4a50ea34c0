// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates one request through classification, SQL
// generation with bounded self-correction, retrieval, or plain chat. The
// orchestrator is an explicit finite-state machine: each stage reads and
// writes declared fields of a typed request state, returns an outcome, and
// a transition table decides what runs next.
package pipeline

import (
	"github.com/AleutianAI/AleutianTAG/services/llm"
	"github.com/AleutianAI/AleutianTAG/services/tag/toon"
)

// ===== Routes and sentinels =====

// Route labels chosen by the intent router.
const (
	RouteSQL       = "SQL"
	RouteRetrieval = "RETRIEVAL"
	RouteChat      = "CHAT"
)

// SkipSQL is the no-op statement sentinel: do not execute anything, the
// answer is a clarification message already placed in the state.
const SkipSQL = "SKIP"

// MaxRetries caps generation attempts per request. The counter advances on
// every statement the synthesizer produces, so a request gets at most
// MaxRetries generation calls no matter how validation or execution fails.
const MaxRetries = 3

// SuperAdminRole is exempt from tenant-filter injection.
const SuperAdminRole = "super_admin"

// ===== Error kinds =====

// Stage error kinds consumed by the retry gate.
const (
	ErrKindSchema     = "schema"
	ErrKindSynthesis  = "synthesis"
	ErrKindValidation = "validation"
	ErrKindExecution  = "execution"
	ErrKindRetrieval  = "retrieval"
)

// StageError is a recoverable stage failure recorded in the state. It
// drives branching only; stages never return these as Go errors.
type StageError struct {
	Kind    string
	Message string
}

// ===== Request state =====

// Turn is one conversation entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tenant is the immutable security and presentation context of a request.
type Tenant struct {
	CompanyID   int64
	UserID      string
	Role        string
	FirstName   string
	CompanyName string
	Page        int
	Limit       int
	DSN         string
}

// ExecResult is the materialized outcome of statement execution.
type ExecResult struct {
	// TotalCount is the best-effort full result size, ignoring LIMIT.
	TotalCount int64

	// Preview is the page/limit window actually shown downstream.
	Preview []map[string]any

	// RawRowCount is how many rows the statement itself produced.
	RawRowCount int
}

// State is the per-request record every stage reads from and writes to.
//
// Description:
//
//	Created by Run, destroyed when Run returns. Field ownership:
//	  Rewritten      - written by the rewrite stage only.
//	  Route          - written by the route stage only.
//	  Tables/Excerpt/Known - written by the select stage only.
//	  SQL/SQLCached  - written by the synthesize stage only.
//	  Exec           - written by the execute stage only.
//	  Err/RetryCount - shared by the SQL-branch stages and the retry gate.
//	  Answer         - written by whichever stage terminates the request.
type State struct {
	Conversation []Turn
	Query        string
	Rewritten    string
	Route        string
	Tenant       Tenant

	Tables  []string
	Excerpt string
	Known   []string

	SQL       string
	SQLCached bool

	Persons map[string][]int64

	Exec       *ExecResult
	Err        *StageError
	RetryCount int

	Compression *toon.Meta
	Usage       llm.TokenUsage

	Answer        string
	Clarification bool
}

// ===== Run inputs and outputs =====

// Request is the input to one pipeline run.
type Request struct {
	SessionID    string
	Conversation []Turn
	Tenant       Tenant
}

// SQLInfo describes what the SQL branch did, for the terminal event.
type SQLInfo struct {
	Ran         bool             `json:"ran"`
	Cached      bool             `json:"cached"`
	Query       string           `json:"query,omitempty"`
	RowCount    int64            `json:"row_count"`
	RowsPreview []map[string]any `json:"rows_preview,omitempty"`
}

// Result is the terminal payload of one pipeline run.
type Result struct {
	SessionID   string         `json:"session_id"`
	Status      string         `json:"status"`
	Answer      string         `json:"answer"`
	Route       string         `json:"route"`
	SQL         SQLInfo        `json:"sql"`
	Compression *toon.Meta     `json:"compression,omitempty"`
	Usage       llm.TokenUsage `json:"token_usage"`

	// Cached marks a whole-response replay from the cache layer above the
	// pipeline; the pipeline itself never sets it.
	Cached bool `json:"cached,omitempty"`
}

// Terminal statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
