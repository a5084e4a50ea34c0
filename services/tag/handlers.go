// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTAG/services/tag/cache"
	"github.com/AleutianAI/AleutianTAG/services/tag/pipeline"
	"github.com/AleutianAI/AleutianTAG/services/tag/vector"
)

// Orchestrator is the pipeline surface the handlers depend on.
type Orchestrator interface {
	Run(ctx context.Context, req *pipeline.Request) (*pipeline.Result, error)
}

// ResponseCache is the best-effort whole-response replay layer.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// DocumentQueue accepts documents for background indexing.
type DocumentQueue interface {
	Submit(content, source string, companyID int64) (string, error)
	Status(id string) (*vector.Job, bool)
}

// Handlers hold the HTTP endpoints. Construct once at startup.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	orch      Orchestrator
	respCache ResponseCache
	docs      DocumentQueue
	dsn       string
	logger    *slog.Logger
}

// NewHandlers creates the endpoint set.
//
// Inputs:
//
//	orch      - May be nil; requests then terminate with a not-ready
//	            error event so deploy-order races surface cleanly.
//	respCache - Optional; nil disables response replay.
//	docs      - Optional; nil disables the document endpoints.
//	dsn       - Default tenant database target.
//	logger    - Optional; defaults to slog.Default().
func NewHandlers(orch Orchestrator, respCache ResponseCache, docs DocumentQueue, dsn string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{orch: orch, respCache: respCache, docs: docs, dsn: dsn, logger: logger}
}

// ===== Chat =====

// Chat runs one request through the pipeline and streams NDJSON events.
//
// Description:
//
//	Emits zero or more token events followed by exactly one terminal
//	event. Pipeline failures arrive as result events with status "error";
//	the bare error event is reserved for an uninitialized orchestrator.
func (h *Handlers) Chat(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")

	if h.orch == nil {
		h.writeEvent(c, errorEvent{Type: eventError, Message: "orchestrator not ready"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeEvent(c, errorEvent{Type: eventError, Message: "invalid request: " + err.Error()})
		return
	}

	uc, err := decodeUserContext(c.GetHeader(userContextHeader))
	if err != nil {
		h.writeEvent(c, errorEvent{Type: eventError, Message: err.Error()})
		return
	}
	tenant := tenantFromRequest(uc, req.Metadata, h.dsn)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	respKey := cache.ResponseKey(tenant.CompanyID, tenant.UserID, tenant.Role,
		replayText(req.History, req.Message))
	if h.respCache != nil {
		if raw, ok := h.respCache.Get(c.Request.Context(), respKey); ok {
			var cached pipeline.Result
			if json.Unmarshal(raw, &cached) == nil {
				cached.SessionID = sessionID
				cached.Cached = true
				h.writeEvent(c, tokenEvent{Type: eventToken, Content: cached.Answer})
				h.writeEvent(c, resultEvent{Type: eventResult, Result: &cached})
				return
			}
		}
	}

	conversation := append(append([]pipeline.Turn{}, req.History...),
		pipeline.Turn{Role: "user", Content: req.Message})

	result, err := h.orch.Run(c.Request.Context(), &pipeline.Request{
		SessionID:    sessionID,
		Conversation: conversation,
		Tenant:       tenant,
	})
	if err != nil {
		// Machine faults are defects, not user errors.
		h.logger.Error("pipeline fault", "error", err, "session_id", sessionID)
		h.writeEvent(c, errorEvent{Type: eventError, Message: "internal pipeline fault"})
		return
	}

	if h.respCache != nil && cacheableResult(result) {
		if raw, merr := json.Marshal(result); merr == nil {
			h.respCache.Set(c.Request.Context(), respKey, raw)
		}
	}

	h.writeEvent(c, tokenEvent{Type: eventToken, Content: result.Answer})
	h.writeEvent(c, resultEvent{Type: eventResult, Result: result})
}

// replayText scopes the replay key by conversation history. A follow-up
// like "what about him?" only means something relative to its own earlier
// turns; replaying an answer produced under different history would be
// wrong. History-free requests keep the bare message so they replay
// across sessions.
func replayText(history []pipeline.Turn, message string) string {
	if len(history) == 0 {
		return message
	}
	h := sha256.New()
	for _, turn := range history {
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Content))
		h.Write([]byte{0})
	}
	return message + "#" + hex.EncodeToString(h.Sum(nil))
}

// cacheableResult excludes failures and clarifications from replay.
// Clarifications are interactive: replaying "which facility did you mean"
// without re-running the pipeline would be wrong.
func cacheableResult(res *pipeline.Result) bool {
	if res.Status != pipeline.StatusOK {
		return false
	}
	if res.Route == pipeline.RouteSQL && !res.SQL.Ran {
		return false
	}
	return true
}

func (h *Handlers) writeEvent(c *gin.Context, ev any) {
	if err := json.NewEncoder(c.Writer).Encode(ev); err != nil {
		h.logger.Warn("event write failed", "error", err)
		return
	}
	c.Writer.Flush()
}

// ===== Session =====

// StartSession issues a fresh session identifier.
func (h *Handlers) StartSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session_id": uuid.NewString()})
}

// ===== Documents =====

type submitDocumentRequest struct {
	Content string `json:"content" binding:"required"`
	Source  string `json:"source"`
}

// SubmitDocument queues a document for indexing and returns the job id.
func (h *Handlers) SubmitDocument(c *gin.Context) {
	if h.docs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document indexing not configured"})
		return
	}

	var req submitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uc, err := decodeUserContext(c.GetHeader(userContextHeader))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var companyID int64
	if uc != nil {
		companyID = uc.CompanyID
	}

	jobID, err := h.docs.Submit(req.Content, req.Source, companyID)
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": vector.JobQueued})
}

// DocumentStatus reports the state of one indexing job.
func (h *Handlers) DocumentStatus(c *gin.Context) {
	if h.docs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document indexing not configured"})
		return
	}
	job, ok := h.docs.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job id"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ===== Health =====

// Health is a liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the orchestrator is wired and able to serve.
func (h *Handlers) Ready(c *gin.Context) {
	if h.orch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
