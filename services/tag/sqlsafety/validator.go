// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlsafety bounds the risk of model-generated SQL. The validator
// parses a candidate statement and rejects destructive operations anywhere
// in the parse tree; the refiner applies deterministic post-generation
// guards (tenant-filter injection, placeholder repair). SQL correctness
// remains advisory: these guards bound risk, they do not prove the query
// means what the user asked.
package sqlsafety

import (
	"log/slog"

	"github.com/xwb1989/sqlparser"
)

// Validator checks candidate statements against the safety policy.
//
// Description:
//
//	A statement fails validation when it cannot be parsed, when any node of
//	its parse tree is a destructive kind (DROP, DELETE, ALTER, CREATE,
//	TRUNCATE, RENAME, that is all DDL plus DELETE), or when an allow-list of
//	tables is configured and the statement references a table outside it.
//	The walk covers the whole tree, not just the root: a forbidden
//	operation nested inside a compound statement is still caught.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Validator struct {
	allowedTables map[string]struct{} // nil means all tables allowed
	logger        *slog.Logger
}

// NewValidator creates a Validator.
//
// Inputs:
//
//	allowedTables - Table allow-list. Nil or empty disables the table check.
//	logger        - Logger for rejection diagnostics. May be nil.
func NewValidator(allowedTables []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	var allowed map[string]struct{}
	if len(allowedTables) > 0 {
		allowed = make(map[string]struct{}, len(allowedTables))
		for _, t := range allowedTables {
			allowed[t] = struct{}{}
		}
	}
	return &Validator{allowedTables: allowed, logger: logger}
}

// Validate reports whether sql is acceptable under the safety policy.
//
// Description:
//
//	Parse failure is a validation failure: an unparseable statement is
//	never executed. The parse tree is then walked in full; any DDL node
//	(create/alter/drop/rename/truncate, including database-level DDL) or
//	DELETE node anywhere in the tree rejects the statement. If an
//	allow-list is configured, every referenced table must be in it.
func (v *Validator) Validate(sql string) bool {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		v.logger.Warn("sql validation: parse failed", "error", err)
		return false
	}

	forbidden := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.DDL, *sqlparser.DBDDL, *sqlparser.Delete:
			forbidden = true
			return false, nil
		}
		return true, nil
	}, stmt)

	if forbidden {
		v.logger.Warn("sql validation: destructive command rejected", "sql", sql)
		return false
	}

	if v.allowedTables != nil {
		for _, table := range Tables(sql) {
			if _, ok := v.allowedTables[table]; !ok {
				v.logger.Warn("sql validation: forbidden table", "table", table)
				return false
			}
		}
	}

	return true
}

// Tables returns the names of tables referenced by sql's FROM/INTO clauses.
// Returns nil when the statement cannot be parsed.
func Tables(sql string) []string {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil
	}

	var tables []string
	seen := make(map[string]struct{})
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		aliased, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		name, ok := aliased.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil
		}
		t := name.Name.String()
		if t == "" {
			return true, nil
		}
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			tables = append(tables, t)
		}
		return true, nil
	}, stmt)

	// INSERT targets are plain TableName nodes, not AliasedTableExpr.
	if ins, ok := stmt.(*sqlparser.Insert); ok {
		t := ins.Table.Name.String()
		if _, dup := seen[t]; t != "" && !dup {
			tables = append(tables, t)
		}
	}

	return tables
}

// DeriveCountQuery builds a total-count query from a SELECT statement by
// structurally stripping its LIMIT and ORDER BY clauses and wrapping the
// remainder in SELECT COUNT(*).
//
// Outputs:
//
//	string - The derived count query.
//	bool   - False when sql is not a parseable SELECT; callers fall back
//	         to the materialized row count.
func DeriveCountQuery(sql string) (string, bool) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return "", false
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return "", false
	}
	sel.Limit = nil
	sel.OrderBy = nil
	return "SELECT COUNT(*) FROM (" + sqlparser.String(sel) + ") AS subquery", true
}
