// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the deterministic heuristic rules used by the intent
// router and the table selector. Rules live in YAML so operators can tune
// routing for their schema without a rebuild; a compiled-in default keeps
// the service functional with no config file at all.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routing_rules.yaml
var defaultRoutingRulesYAML []byte

// SelectorRule maps query keywords to table-name substrings.
//
// Description:
//
//	A rule fires when any QueryKeyword appears (case-insensitively) in the
//	query text; it then selects every known table whose name contains any
//	TableSubstring.
type SelectorRule struct {
	QueryKeywords   []string `yaml:"query_keywords"`
	TableSubstrings []string `yaml:"table_substrings"`
}

// RoutingRules holds all deterministic heuristics for one deployment.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type RoutingRules struct {
	// SQLKeywords short-circuit the intent router to the SQL branch
	// without a model call when any of them matches the query.
	SQLKeywords []string `yaml:"sql_keywords"`

	// MaxSchemaTables bounds the fixed-size prefix of known tables used
	// when neither heuristic nor model selection finds anything.
	MaxSchemaTables int `yaml:"max_schema_tables"`

	// SelectorRules drive the heuristic table selector.
	SelectorRules []SelectorRule `yaml:"selector_rules"`
}

// DefaultRoutingRules parses the embedded rule set.
//
// Outputs:
//
//	*RoutingRules - Never nil. Panics only if the embedded YAML is broken,
//	                which is a build defect, not a runtime condition.
func DefaultRoutingRules() *RoutingRules {
	rules, err := parseRoutingRules(defaultRoutingRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded routing_rules.yaml is invalid: %v", err))
	}
	return rules
}

// LoadRoutingRules reads rules from path, falling back to the embedded
// defaults when path is empty.
func LoadRoutingRules(path string) (*RoutingRules, error) {
	if path == "" {
		return DefaultRoutingRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing rules: %w", err)
	}
	rules, err := parseRoutingRules(raw)
	if err != nil {
		return nil, fmt.Errorf("parse routing rules %s: %w", path, err)
	}
	return rules, nil
}

func parseRoutingRules(raw []byte) (*RoutingRules, error) {
	var rules RoutingRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, err
	}
	if rules.MaxSchemaTables <= 0 {
		rules.MaxSchemaTables = 10
	}
	return &rules, nil
}

// MatchesSQLKeyword reports whether query contains any configured SQL
// keyword, case-insensitively.
func (r *RoutingRules) MatchesSQLKeyword(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range r.SQLKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SelectTables applies the selector rules to the known-table list and
// returns a deduplicated, order-preserving subset.
func (r *RoutingRules) SelectTables(query string, allTables []string) []string {
	lower := strings.ToLower(query)

	var selected []string
	seen := make(map[string]struct{})
	for _, rule := range r.SelectorRules {
		if !anyKeyword(lower, rule.QueryKeywords) {
			continue
		}
		for _, table := range allTables {
			lt := strings.ToLower(table)
			for _, sub := range rule.TableSubstrings {
				if sub == "" || !strings.Contains(lt, strings.ToLower(sub)) {
					continue
				}
				if _, dup := seen[table]; !dup {
					seen[table] = struct{}{}
					selected = append(selected, table)
				}
				break
			}
		}
	}
	return selected
}

func anyKeyword(lowerQuery string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowerQuery, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
