// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tag exposes the orchestration pipeline over HTTP: a streaming
// chat endpoint emitting NDJSON events, session bootstrap, document
// indexing, and health probes.
package tag

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianTAG/services/tag/pipeline"
)

// userContextHeader carries base64-encoded tenant context set by the
// gateway in front of this service.
const userContextHeader = "x-user-context"

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message" binding:"required"`
	History   []pipeline.Turn `json:"history"`

	// Metadata may carry tenant fields directly for deployments without
	// a gateway; header context wins when both are present.
	Metadata map[string]any `json:"metadata"`
}

// userContext is the decoded gateway header payload.
type userContext struct {
	CompanyID   int64  `json:"company_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	FirstName   string `json:"first_name"`
	CompanyName string `json:"company_name"`
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
}

// Event types on the NDJSON stream. Exactly one terminal event (result or
// error) is written per request; zero or more token events precede it.
const (
	eventToken  = "token"
	eventResult = "result"
	eventError  = "error"
)

// tokenEvent is a partial-answer chunk.
type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// resultEvent is the terminal payload.
type resultEvent struct {
	Type string `json:"type"`
	*pipeline.Result
}

// errorEvent is the terminal event reserved for requests the orchestrator
// never saw (service not ready); pipeline failures travel inside result.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeUserContext parses the gateway header. An absent header is not an
// error; a malformed one is, so a misconfigured gateway fails loudly
// instead of silently dropping tenant scoping.
func decodeUserContext(header string) (*userContext, error) {
	if header == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", userContextHeader, err)
	}
	var uc userContext
	if err := json.Unmarshal(raw, &uc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", userContextHeader, err)
	}
	return &uc, nil
}

// tenantFromRequest assembles the pipeline tenant from the header context
// and, where the header is silent, the request metadata.
func tenantFromRequest(uc *userContext, meta map[string]any, dsn string) pipeline.Tenant {
	t := pipeline.Tenant{DSN: dsn}
	if uc != nil {
		t.CompanyID = uc.CompanyID
		t.UserID = uc.UserID
		t.Role = uc.Role
		t.FirstName = uc.FirstName
		t.CompanyName = uc.CompanyName
		t.Page = uc.Page
		t.Limit = uc.Limit
	}

	if t.CompanyID == 0 {
		t.CompanyID = metaInt64(meta, "company_id")
	}
	if t.UserID == "" {
		t.UserID = metaString(meta, "user_id")
	}
	if t.Role == "" {
		t.Role = metaString(meta, "role")
	}
	if t.FirstName == "" {
		t.FirstName = metaString(meta, "first_name")
	}
	if t.CompanyName == "" {
		t.CompanyName = metaString(meta, "company_name")
	}
	if t.Page == 0 {
		t.Page = int(metaInt64(meta, "page"))
	}
	if t.Limit == 0 {
		t.Limit = int(metaInt64(meta, "limit"))
	}
	return t
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
