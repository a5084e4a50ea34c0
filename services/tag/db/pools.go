// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package db resolves per-tenant database targets and executes generated
// statements against them. Each distinct connection string gets one lazily
// created pgx pool; pools are shared across requests and closed at shutdown.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pools is a registry of pgx pools keyed by connection string.
//
// Description:
//
//	Tenant context carries a connection target per request; most tenants
//	share one of a handful of physical databases. The registry creates a
//	pool on first use of a DSN and reuses it afterwards.
//
// Thread Safety: Safe for concurrent use.
type Pools struct {
	mu     sync.Mutex
	pools  map[string]*pgxpool.Pool
	logger *slog.Logger
}

// NewPools creates an empty registry.
func NewPools(logger *slog.Logger) *Pools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pools{pools: make(map[string]*pgxpool.Pool), logger: logger}
}

// Get returns the pool for dsn, creating it on first use.
//
// Outputs:
//
//	*pgxpool.Pool - Shared pool for the DSN.
//	error         - Non-nil when dsn is empty or the pool cannot be created.
func (p *Pools) Get(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database connection not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pool, ok := p.pools[dsn]; ok {
		return pool, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	p.pools[dsn] = pool
	p.logger.Info("database pool created", "targets_open", len(p.pools))
	return pool, nil
}

// Close releases every pool in the registry.
func (p *Pools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for dsn, pool := range p.pools {
		pool.Close()
		delete(p.pools, dsn)
	}
}
