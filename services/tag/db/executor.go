// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianTAG/services/tag/sqlsafety"
)

var executorTracer = otel.Tracer("aleutian.tag.db")

// Executor runs validated statements against tenant databases.
//
// Thread Safety: Safe for concurrent use.
type Executor struct {
	pools  *Pools
	logger *slog.Logger
}

// NewExecutor creates an executor over the given pool registry.
//
// Inputs:
//
//	pools  - Required. Panics if nil.
//	logger - Optional; defaults to slog.Default().
func NewExecutor(pools *Pools, logger *slog.Logger) *Executor {
	if pools == nil {
		panic("db: NewExecutor requires a pool registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pools: pools, logger: logger}
}

// returnsRows reports whether the statement produces a result set.
func returnsRows(sql string) bool {
	head := strings.ToUpper(strings.TrimSpace(sql))
	for _, kw := range []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE"} {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}

// Run executes one statement against the tenant database at dsn.
//
// Description:
//
//	SELECT-like statements are fetched into maps keyed by column name.
//	INSERT/UPDATE and other mutations go through Exec and come back as one
//	synthetic row reporting the affected count, so downstream consumers
//	never have to branch on statement kind.
//
// Outputs:
//
//	[]map[string]any - One record per row, keyed by column name.
//	error            - Non-nil on connection or execution failure.
func (e *Executor) Run(ctx context.Context, dsn, sql string) ([]map[string]any, error) {
	ctx, span := executorTracer.Start(ctx, "db.Run")
	defer span.End()
	span.SetAttributes(attribute.Bool("db.returns_rows", returnsRows(sql)))

	pool, err := e.pools.Get(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if !returnsRows(sql) {
		tag, err := pool.Exec(ctx, sql)
		if err != nil {
			return nil, fmt.Errorf("execute statement: %w", err)
		}
		e.logger.Debug("mutation executed", "rows_affected", tag.RowsAffected())
		return []map[string]any{{
			"status":        "success",
			"rows_affected": tag.RowsAffected(),
		}}, nil
	}

	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		record := make(map[string]any, len(fields))
		for i, fd := range fields {
			record[fd.Name] = values[i]
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Total returns the full result-set size for a SELECT, ignoring any LIMIT.
//
// Description:
//
//	Wraps the statement in a COUNT(*) subquery so "how many" answers stay
//	correct even when only a preview page was fetched. Any failure falls
//	back to the number of rows actually returned; the count is advisory.
func (e *Executor) Total(ctx context.Context, dsn, sql string, fallback int64) int64 {
	countSQL, ok := sqlsafety.DeriveCountQuery(sql)
	if !ok {
		return fallback
	}
	pool, err := e.pools.Get(ctx, dsn)
	if err != nil {
		return fallback
	}
	var total int64
	if err := pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		e.logger.Debug("count query failed, using page size", "error", err)
		return fallback
	}
	return total
}

// AllTables lists the public tables of the tenant database, sorted by name.
func (e *Executor) AllTables(ctx context.Context, dsn string) ([]string, error) {
	pool, err := e.pools.Get(ctx, dsn)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// SchemaExcerpt renders a compact column listing for the given tables.
//
// Description:
//
//	Produces one "table(col type, ...)" line per table in the order given.
//	The excerpt is prompt material for statement generation, so it stays
//	terse on purpose; tables that do not exist simply produce no line.
func (e *Executor) SchemaExcerpt(ctx context.Context, dsn string, tables []string) (string, error) {
	if len(tables) == 0 {
		return "", nil
	}
	pool, err := e.pools.Get(ctx, dsn)
	if err != nil {
		return "", err
	}
	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ANY($1)
		ORDER BY table_name, ordinal_position`, tables)
	if err != nil {
		return "", fmt.Errorf("describe tables: %w", err)
	}
	defer rows.Close()

	columns := make(map[string][]string, len(tables))
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		columns[table] = append(columns[table], column+" "+dataType)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate columns: %w", err)
	}

	var b strings.Builder
	for _, table := range tables {
		cols, ok := columns[table]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s(%s)\n", table, strings.Join(cols, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// LookupPersonIDs finds user ids whose first name matches, scoped to one
// company. Used to ground person references in generated statements.
func (e *Executor) LookupPersonIDs(ctx context.Context, dsn, name string, companyID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 5
	}
	pool, err := e.pools.Get(ctx, dsn)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT id FROM users
		WHERE first_name ILIKE $1 AND company_id = $2
		ORDER BY id
		LIMIT $3`, "%"+name+"%", companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("person lookup: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate person ids: %w", err)
	}
	return ids, nil
}
