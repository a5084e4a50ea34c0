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
	"testing"
)

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM task_transaction", true},
		{"  select id from users", true},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"EXPLAIN SELECT 1", true},
		{"INSERT INTO task_transaction (name) VALUES ('x')", false},
		{"UPDATE task_transaction SET status = 'done'", false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.sql); got != tt.want {
			t.Errorf("returnsRows(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}

func TestPools_EmptyDSN(t *testing.T) {
	p := NewPools(nil)
	defer p.Close()
	if _, err := p.Get(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestNewExecutor_NilPoolsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nil pool registry")
		}
	}()
	NewExecutor(nil, nil)
}
