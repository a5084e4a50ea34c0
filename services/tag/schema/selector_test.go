// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// ===== Mocks =====

type mockCatalog struct {
	tables  []string
	excerpt string
	err     error
}

func (m *mockCatalog) AllTables(ctx context.Context, dsn string) ([]string, error) {
	return m.tables, m.err
}

func (m *mockCatalog) SchemaExcerpt(ctx context.Context, dsn string, tables []string) (string, error) {
	return m.excerpt, nil
}

type mockChat struct {
	chatFn func(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error)
	calls  int
}

func (m *mockChat) Chat(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
	m.calls++
	if m.chatFn != nil {
		return m.chatFn(ctx, msgs, opts)
	}
	return &llm.ChatResult{Text: ""}, nil
}

// ===== Tests =====

func TestSelector_HeuristicsFirst(t *testing.T) {
	catalog := &mockCatalog{
		tables:  []string{"assets", "task_transaction", "users"},
		excerpt: "task_transaction(id bigint, status text)",
	}
	chat := &mockChat{}
	s := NewSelector(catalog, chat, nil, nil)

	sel, err := s.Select(context.Background(), "dsn", "show overdue tasks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(sel.Tables, []string{"task_transaction"}) {
		t.Errorf("expected heuristic selection, got %v", sel.Tables)
	}
	if chat.calls != 0 {
		t.Error("heuristic hit must not call the model")
	}
	if sel.Excerpt == "" {
		t.Error("excerpt missing")
	}
}

func TestSelector_ModelFallbackFiltersHallucinations(t *testing.T) {
	catalog := &mockCatalog{tables: []string{"inventory_item", "purchase_order", "vendors"}}
	chat := &mockChat{
		chatFn: func(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
			return &llm.ChatResult{Text: "inventory_item, warehouse_magic, Vendors"}, nil
		},
	}
	s := NewSelector(catalog, chat, nil, nil)

	sel, err := s.Select(context.Background(), "dsn", "something unmatchable by rules")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(sel.Tables, []string{"inventory_item", "vendors"}) {
		t.Errorf("hallucinated names must be dropped, got %v", sel.Tables)
	}
	if chat.calls != 1 {
		t.Errorf("expected exactly one model call, got %d", chat.calls)
	}
}

func TestSelector_PrefixFallback(t *testing.T) {
	tables := make([]string, 15)
	for i := range tables {
		tables[i] = string(rune('a'+i)) + "_table"
	}
	catalog := &mockCatalog{tables: tables}
	chat := &mockChat{
		chatFn: func(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
			return nil, errors.New("model down")
		},
	}
	s := NewSelector(catalog, chat, nil, nil)

	sel, err := s.Select(context.Background(), "dsn", "zzz nothing matches")
	if err != nil {
		t.Fatalf("model failure must not fail selection: %v", err)
	}
	if len(sel.Tables) != 10 {
		t.Errorf("expected 10-table prefix fallback, got %d", len(sel.Tables))
	}
	if !reflect.DeepEqual(sel.Tables, tables[:10]) {
		t.Errorf("prefix must preserve catalog order, got %v", sel.Tables)
	}
}

func TestSelector_NilChatSkipsModel(t *testing.T) {
	catalog := &mockCatalog{tables: []string{"one", "two"}}
	s := NewSelector(catalog, nil, nil, nil)

	sel, err := s.Select(context.Background(), "dsn", "unmatchable")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Tables) != 2 {
		t.Errorf("expected full small catalog, got %v", sel.Tables)
	}
}

func TestSelector_EmptyCatalogErrors(t *testing.T) {
	s := NewSelector(&mockCatalog{}, nil, nil, nil)
	if _, err := s.Select(context.Background(), "dsn", "anything"); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}
