// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists generated SQL and full responses between requests.
//
// Design choices:
//
//  1. BadgerDB (not Redis): cached queries are service infrastructure, not
//     shared user data. BadgerDB is embedded: no network call, no
//     availability dependency, ~100µs access latency. Deployments that need
//     a shared cache can mount the cache directory on shared storage or run
//     one instance per tenant shard.
//
//  2. Composite tenant key: every entry is namespaced by
//     (company_id, user_id, role, normalized query text). Two requests
//     differing in any component never share an entry. Role-scoped
//     row-level security would otherwise leak through the cache.
//
//  3. BadgerDB native TTL: the 1-hour expiry is enforced by BadgerDB's GC,
//     not by application code. Expired keys return ErrKeyNotFound, which the
//     store treats as a miss.
//
//  4. Best-effort always: a storage failure on get degrades to a miss and a
//     failure on set degrades to "not cached". Neither ever aborts or delays
//     the request pipeline.
//
// Storage layout:
//
//	tag/q/v1/{company}:{user}:{role}:{normalized query}    → SQL text
//	tag/resp/v1/{company}:{user}:{role}:{normalized query} → JSON response
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultTTL is the lifetime of a cache entry. Generated SQL goes stale
// when the schema changes; one hour bounds that exposure.
const DefaultTTL = time.Hour

const (
	queryKeyPrefix    = "tag/q/v1/"
	responseKeyPrefix = "tag/resp/v1/"
)

// errCacheMiss distinguishes "key not found" (a normal miss) from a genuine
// storage error inside Get.
var errCacheMiss = errors.New("cache miss")

var (
	cacheHitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "cache",
		Name:      "hit_total",
		Help:      "Cache hits by entry kind",
	}, []string{"kind"})

	cacheMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "cache",
		Name:      "miss_total",
		Help:      "Cache misses by entry kind (storage failures count as misses)",
	}, []string{"kind"})

	cacheErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "cache",
		Name:      "error_total",
		Help:      "Cache storage failures by operation",
	}, []string{"op"})
)

// Store is a tenant-namespaced KV cache over BadgerDB.
//
// Description:
//
//	Get and Set are best-effort: all storage failures are logged and
//	absorbed. Callers observe only hit/miss. The store owns the DB and
//	must be closed at shutdown.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open creates a Store at dir. An empty dir opens an in-memory store,
// correct for tests and for deployments without a cache directory.
//
// Inputs:
//
//	dir    - BadgerDB directory. Empty means in-memory.
//	ttl    - Entry lifetime. Zero or negative uses DefaultTTL.
//	logger - Logger for hit/miss diagnostics. May be nil.
func Open(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	return &Store{db: db, ttl: ttl, logger: logger}, nil
}

// QueryKey builds the composite key for a cached SQL statement.
//
// Description:
//
//	Query text is normalized (trimmed, lower-cased) so trivially different
//	phrasings of the same request share an entry. The tenant components are
//	embedded verbatim: differing company, user, or role always produces a
//	different key.
func QueryKey(companyID int64, userID, role, query string) string {
	return queryKeyPrefix + compositeKey(companyID, userID, role, query)
}

// ResponseKey builds the composite key for a cached full response.
func ResponseKey(companyID int64, userID, role, query string) string {
	return responseKeyPrefix + compositeKey(companyID, userID, role, query)
}

func compositeKey(companyID int64, userID, role, query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	return strconv.FormatInt(companyID, 10) + ":" + userID + ":" + role + ":" + normalized
}

// Get retrieves a cached value. The second return is false on miss, on TTL
// expiry, and on any storage failure. Absence is never an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if err := ctx.Err(); err != nil {
		return nil, false
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	kind := kindForKey(key)
	if errors.Is(err, errCacheMiss) {
		cacheMissTotal.WithLabelValues(kind).Inc()
		s.logger.Debug("cache miss", "key", key)
		return nil, false
	}
	if err != nil {
		cacheErrorTotal.WithLabelValues("get").Inc()
		cacheMissTotal.WithLabelValues(kind).Inc()
		s.logger.Warn("cache get failed, treating as miss", "key", key, "error", err)
		return nil, false
	}

	cacheHitTotal.WithLabelValues(kind).Inc()
	s.logger.Debug("cache hit", "key", key)
	return raw, true
}

// Set stores a value with the configured TTL. Failures are logged and
// absorbed; the value is simply not cached.
func (s *Store) Set(ctx context.Context, key string, value []byte) {
	if err := ctx.Err(); err != nil {
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		cacheErrorTotal.WithLabelValues("set").Inc()
		s.logger.Warn("cache set failed, value not cached", "key", key, "error", err)
	}
}

// Close releases the underlying BadgerDB.
func (s *Store) Close() error {
	return s.db.Close()
}

func kindForKey(key string) string {
	if strings.HasPrefix(key, responseKeyPrefix) {
		return "response"
	}
	return "query"
}
