// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tag starts the Aleutian TAG API server.
//
// TAG turns natural-language requests into validated, tenant-scoped
// database queries, retrieval-augmented answers, or plain conversation.
//
// Usage:
//
//	go run ./cmd/tag
//	go run ./cmd/tag -port 9090
//
// Configuration (environment):
//
//	LLM_BASE_URL          - Full OpenAI-compatible chat completions URL, e.g.
//	                        http://localhost:11434/v1/chat/completions (required)
//	LLM_API_KEY           - Bearer token for the LLM endpoint (optional)
//	LLM_MODEL             - Chat model name (default qwen2.5:14b)
//	EMBEDDING_SERVICE_URL - Ollama /api/embed endpoint (optional; disables retrieval when unset)
//	EMBEDDING_MODEL       - Embedding model name (default nomic-embed-text-v2-moe)
//	WEAVIATE_HOST         - Weaviate host:port (optional; disables retrieval when unset)
//	WEAVIATE_SCHEME       - http or https (default http)
//	DATABASE_URL          - Default tenant database DSN
//	TAG_CACHE_DIR         - BadgerDB directory for the statement/response cache
//	                        (empty = in-memory cache)
//	TAG_ROUTING_RULES     - Path to a routing rules YAML (empty = embedded defaults)
//
// Example requests:
//
//	# Readiness
//	curl http://localhost:8080/v1/tag/readyz
//
//	# Chat (NDJSON stream)
//	curl -N -X POST http://localhost:8080/v1/tag/chat \
//	  -H "Content-Type: application/json" \
//	  -H "x-user-context: $(echo -n '{"company_id":7,"user_id":"u1","role":"admin"}' | base64)" \
//	  -d '{"message": "How many tasks are overdue?"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianTAG/services/llm"
	"github.com/AleutianAI/AleutianTAG/services/tag"
	"github.com/AleutianAI/AleutianTAG/services/tag/cache"
	"github.com/AleutianAI/AleutianTAG/services/tag/config"
	"github.com/AleutianAI/AleutianTAG/services/tag/db"
	"github.com/AleutianAI/AleutianTAG/services/tag/persons"
	"github.com/AleutianAI/AleutianTAG/services/tag/pipeline"
	"github.com/AleutianAI/AleutianTAG/services/tag/schema"
	"github.com/AleutianAI/AleutianTAG/services/tag/vector"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// ===== Collaborators =====

	rules, err := config.LoadRoutingRules(os.Getenv("TAG_ROUTING_RULES"))
	if err != nil {
		logger.Warn("routing rules load failed, using embedded defaults", "error", err)
		rules = config.DefaultRoutingRules()
	}

	llmBaseURL := os.Getenv("LLM_BASE_URL")
	if llmBaseURL == "" {
		logger.Error("LLM_BASE_URL is required")
		os.Exit(1)
	}
	chatClient := llm.NewClient(os.Getenv("LLM_API_KEY"), envOr("LLM_MODEL", "qwen2.5:14b"), llmBaseURL)

	var cacheStore *cache.Store
	cacheStore, err = cache.Open(os.Getenv("TAG_CACHE_DIR"), cache.DefaultTTL, logger)
	if err != nil {
		logger.Warn("cache unavailable, statement and response caching disabled", "error", err)
		cacheStore = nil
	}

	pools := db.NewPools(logger)
	executor := db.NewExecutor(pools, logger)
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Warn("DATABASE_URL not set; SQL requests will fail until a tenant target is configured")
	}

	selector := schema.NewSelector(executor, chatClient, rules, logger)
	resolver := persons.NewResolver(chatClient, executor, logger)

	// Retrieval is optional: without an embedder and a Weaviate host the
	// pipeline answers document questions with a fixed message.
	var searcher *vector.Searcher
	var indexer *vector.Indexer
	embedURL := os.Getenv("EMBEDDING_SERVICE_URL")
	weaviateHost := os.Getenv("WEAVIATE_HOST")
	if embedURL != "" && weaviateHost != "" {
		weaviateClient, werr := weaviate.NewClient(weaviate.Config{
			Host:   weaviateHost,
			Scheme: envOr("WEAVIATE_SCHEME", "http"),
		})
		if werr != nil {
			logger.Warn("weaviate client unavailable, retrieval disabled", "error", werr)
		} else {
			embedder := vector.NewEmbedder(embedURL, envOr("EMBEDDING_MODEL", "nomic-embed-text-v2-moe"), logger)
			searcher = vector.NewSearcher(weaviateClient, embedder, logger)
			indexer = vector.NewIndexer(weaviateClient, embedder, logger)
			indexer.Start(context.Background())
			logger.Info("retrieval enabled", "weaviate_host", weaviateHost)
		}
	} else {
		logger.Info("retrieval disabled (EMBEDDING_SERVICE_URL or WEAVIATE_HOST unset)")
	}

	// Typed-nil guard: only hand real stores/searchers to the pipeline.
	opts := pipeline.Options{
		Chat:     chatClient,
		Selector: selector,
		DB:       executor,
		Persons:  resolver,
		Rules:    rules,
		Logger:   logger,
	}
	if cacheStore != nil {
		opts.Cache = cacheStore
	}
	if searcher != nil {
		opts.Search = searcher
	}
	machine := pipeline.NewMachine(opts)

	var respCache tag.ResponseCache
	if cacheStore != nil {
		respCache = cacheStore
	}
	var docs tag.DocumentQueue
	if indexer != nil {
		docs = indexer
	}
	handlers := tag.NewHandlers(machine, respCache, docs, dsn, logger)

	// ===== Router =====

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-tag"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	tag.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Aleutian TAG server listening", "port", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// ===== Graceful shutdown =====

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "error", err)
	}

	if indexer != nil {
		indexer.Stop()
	}
	if cacheStore != nil {
		if err := cacheStore.Close(); err != nil {
			logger.Warn("cache close failed", "error", err)
		}
	}
	pools.Close()
	logger.Info("shutdown complete")
}
