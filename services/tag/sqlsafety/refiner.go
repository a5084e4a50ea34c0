// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlsafety

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var whereClauseRe = regexp.MustCompile(`(?i)WHERE\s+`)

// EnsureTenantFilter injects a company_id predicate into a generated SELECT
// when the tenant id literal does not already appear in the statement text.
//
// Description:
//
//	Row-level security guard of last resort. The prompt instructs the model
//	to filter by company_id; when the generated text shows no trace of the
//	tenant id, the filter is joined with AND into an existing WHERE clause
//	or appended as a new one.
//
//	The presence check is a plain substring search for the tenant id's
//	digits anywhere in the statement, so an unrelated literal containing
//	the same digits suppresses injection. Known weak guarantee, kept
//	deliberately (see DESIGN.md).
//
// Inputs:
//
//	sql       - The generated statement. Non-SELECT text passes through.
//	companyID - Tenant id. Zero or negative disables the guard.
func EnsureTenantFilter(sql string, companyID int64) string {
	if companyID <= 0 || sql == "" {
		return sql
	}
	if !strings.Contains(strings.ToUpper(sql), "SELECT") {
		return sql
	}
	if strings.Contains(sql, strconv.FormatInt(companyID, 10)) {
		return sql
	}

	if loc := whereClauseRe.FindStringIndex(sql); loc != nil {
		return sql[:loc[0]] + fmt.Sprintf("WHERE company_id = %d AND ", companyID) + sql[loc[1]:]
	}
	return sql + fmt.Sprintf(" WHERE company_id = %d", companyID)
}

// FixPlaceholders replaces a positional "?" placeholder with a known tenant
// or user identifier when the surrounding column context makes the intended
// identifier unambiguous.
//
// Description:
//
//	Some models stubbornly emit parameterized SQL despite instructions.
//	If the statement mentions user_id and a user id is known, the first
//	placeholder becomes that id; else the same for company_id; else the
//	user id is the fallback. Only the first placeholder is replaced;
//	further placeholders carry no column context to disambiguate.
func FixPlaceholders(sql, userID string, companyID int64) string {
	if !strings.Contains(sql, "?") {
		return sql
	}

	lower := strings.ToLower(sql)
	company := ""
	if companyID > 0 {
		company = strconv.FormatInt(companyID, 10)
	}

	switch {
	case strings.Contains(lower, "user_id") && userID != "":
		return strings.Replace(sql, "?", userID, 1)
	case strings.Contains(lower, "company_id") && company != "":
		return strings.Replace(sql, "?", company, 1)
	case userID != "":
		return strings.Replace(sql, "?", userID, 1)
	}
	return sql
}
