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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all TAG routes with the router.
//
// Description:
//
//	Registers /v1/tag/* endpoints with the given Gin router group. The
//	group should already carry any required middleware.
//
// Endpoints:
//
//	POST /v1/tag/chat - Run one request through the pipeline (NDJSON stream)
//	POST /v1/tag/session/start - Issue a session identifier
//	POST /v1/tag/documents - Queue a document for indexing
//	GET  /v1/tag/documents/:id - Indexing job status
//	GET  /v1/tag/healthz - Liveness probe
//	GET  /v1/tag/readyz - Readiness probe
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	tag := rg.Group("/tag")

	tag.POST("/chat", h.Chat)
	tag.POST("/session/start", h.StartSession)

	tag.POST("/documents", h.SubmitDocument)
	tag.GET("/documents/:id", h.DocumentStatus)

	tag.GET("/healthz", h.Health)
	tag.GET("/readyz", h.Ready)
}
