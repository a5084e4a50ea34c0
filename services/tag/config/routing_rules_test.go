// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultRoutingRules_Loads(t *testing.T) {
	rules := DefaultRoutingRules()
	if len(rules.SQLKeywords) == 0 {
		t.Error("embedded defaults have no sql keywords")
	}
	if len(rules.SelectorRules) == 0 {
		t.Error("embedded defaults have no selector rules")
	}
	if rules.MaxSchemaTables != 10 {
		t.Errorf("expected default max_schema_tables 10, got %d", rules.MaxSchemaTables)
	}
}

func TestMatchesSQLKeyword(t *testing.T) {
	rules := DefaultRoutingRules()

	tests := []struct {
		query string
		want  bool
	}{
		{"How many tasks are overdue?", true},
		{"Show me all users", true},
		{"List all assets", true},
		{"Assign this to John", true},
		{"Hello there", false},
		{"Who are you?", false},
		{"HOW MANY USERS DO WE HAVE", true}, // case-insensitive
	}
	for _, tt := range tests {
		if got := rules.MatchesSQLKeyword(tt.query); got != tt.want {
			t.Errorf("MatchesSQLKeyword(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestSelectTables(t *testing.T) {
	rules := DefaultRoutingRules()
	all := []string{"task_transaction", "task_description", "users", "assets", "company", "facility_zone"}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "task query selects task tables",
			query: "show overdue tasks",
			want:  []string{"task_transaction", "task_description"},
		},
		{
			name:  "person query selects user tables",
			query: "who is assigned to cleaning",
			want:  []string{"users"},
		},
		{
			name:  "multi-domain query dedupes in order",
			query: "tasks assigned to users",
			want:  []string{"task_transaction", "task_description", "users"},
		},
		{
			name:  "no match yields empty",
			query: "tell me a joke",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.SelectTables(tt.query, all)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadRoutingRules_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte("sql_keywords: [\"inventory\"]\nselector_rules:\n  - query_keywords: [\"inventory\"]\n    table_substrings: [\"inv\"]\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rules, err := LoadRoutingRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rules.MatchesSQLKeyword("check inventory levels") {
		t.Error("custom keyword not loaded")
	}
	if rules.MaxSchemaTables != 10 {
		t.Errorf("zero max_schema_tables must default to 10, got %d", rules.MaxSchemaTables)
	}

	if _, err := LoadRoutingRules(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRoutingRules_EmptyPathUsesDefaults(t *testing.T) {
	rules, err := LoadRoutingRules("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules.SQLKeywords) == 0 {
		t.Error("defaults not returned for empty path")
	}
}
