// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persons

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// ===== Mocks =====

type mockChat struct {
	text string
	err  error
}

func (m *mockChat) Chat(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResult{Text: m.text}, nil
}

type mockLookup struct {
	ids     map[string][]int64
	err     error
	lookups []string
}

func (m *mockLookup) LookupPersonIDs(ctx context.Context, dsn, name string, companyID int64, limit int) ([]int64, error) {
	m.lookups = append(m.lookups, name)
	if m.err != nil {
		return nil, m.err
	}
	return m.ids[name], nil
}

// ===== Tests =====

func TestResolver_ResolvesNamesInQuery(t *testing.T) {
	lookup := &mockLookup{ids: map[string][]int64{"Maria": {7, 12}}}
	r := NewResolver(&mockChat{text: "Maria"}, lookup, nil)

	got := r.Resolve(context.Background(), "dsn", "assign the cleaning task to Maria", 3)
	want := map[string][]int64{"Maria": {7, 12}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolver_DiscardsNamesNotInQuery(t *testing.T) {
	lookup := &mockLookup{ids: map[string][]int64{"Carlos": {1}}}
	r := NewResolver(&mockChat{text: "Carlos, Maria"}, lookup, nil)

	got := r.Resolve(context.Background(), "dsn", "what is maria working on", 3)
	if len(got) != 0 {
		t.Errorf("Carlos is not in the query and Maria has no ids; got %v", got)
	}
	if !reflect.DeepEqual(lookup.lookups, []string{"Maria"}) {
		t.Errorf("only in-query names may be looked up, got %v", lookup.lookups)
	}
}

func TestResolver_NoneMeansNoLookups(t *testing.T) {
	lookup := &mockLookup{}
	r := NewResolver(&mockChat{text: "NONE"}, lookup, nil)

	got := r.Resolve(context.Background(), "dsn", "how many tasks are overdue", 3)
	if len(got) != 0 || len(lookup.lookups) != 0 {
		t.Errorf("NONE must skip lookups entirely, got %v after %v", got, lookup.lookups)
	}
}

func TestResolver_FailuresYieldEmpty(t *testing.T) {
	r := NewResolver(&mockChat{err: errors.New("model down")}, &mockLookup{}, nil)
	if got := r.Resolve(context.Background(), "dsn", "ask Maria", 3); len(got) != 0 {
		t.Errorf("extraction failure must yield empty map, got %v", got)
	}

	r = NewResolver(&mockChat{text: "Maria"}, &mockLookup{err: errors.New("db down")}, nil)
	if got := r.Resolve(context.Background(), "dsn", "ask Maria", 3); got == nil || len(got) != 0 {
		t.Errorf("lookup failure must yield empty non-nil map, got %v", got)
	}
}

func TestSplitNames(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"Maria, Carlos", []string{"Maria", "Carlos"}},
		{"  maria , MARIA ", []string{"maria"}},
		{"NONE", nil},
		{"none", nil},
		{"", nil},
		{"'Priya', \"Dev\"", []string{"Priya", "Dev"}},
	}
	for _, tt := range tests {
		if got := splitNames(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitNames(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
