// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toon

import (
	"encoding/json"
	"reflect"
	"testing"
)

// normalize runs a value through a JSON round-trip so fixtures compare equal
// to decoded payloads (float64 numbers, generic maps/slices).
func normalize(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return out
}

func TestEncode_InterningSharedStrings(t *testing.T) {
	input := map[string]any{
		"a": "x",
		"b": "x",
		"c": map[string]any{"a": "x"},
	}

	enc, err := Encode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Exactly one lookup entry per distinct string: "a", "b", "c", "x".
	if len(enc.Payload.Lookup) != 4 {
		t.Fatalf("expected 4 lookup entries, got %d: %v", len(enc.Payload.Lookup), enc.Payload.Lookup)
	}
	seen := map[string]int{}
	for _, s := range enc.Payload.Lookup {
		seen[s]++
	}
	for _, want := range []string{"a", "b", "c", "x"} {
		if seen[want] != 1 {
			t.Errorf("lookup entry %q appears %d times, want 1", want, seen[want])
		}
	}

	decoded := Decode(enc.Payload)
	if !reflect.DeepEqual(decoded, normalize(t, input)) {
		t.Errorf("round-trip mismatch:\n got %#v\nwant %#v", decoded, normalize(t, input))
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"flat object", map[string]any{"name": "Soban", "role": "admin"}},
		{"nested arrays", []any{
			map[string]any{"content": "doc one", "score": 0.91},
			map[string]any{"content": "doc one", "score": 0.44},
		}},
		{"mixed scalars", map[string]any{
			"count": 42, "active": true, "note": nil, "ratio": 0.5,
		}},
		{"empty object", map[string]any{}},
		{"empty array", []any{}},
		{"bare string", "hello"},
		{"bare number", 7},
		{"deep nesting", map[string]any{
			"a": map[string]any{"b": map[string]any{"c": []any{"d", "d", "d"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			decoded := Decode(enc.Payload)
			if !reflect.DeepEqual(decoded, normalize(t, tt.input)) {
				t.Errorf("round-trip mismatch:\n got %#v\nwant %#v", decoded, normalize(t, tt.input))
			}
		})
	}
}

func TestRoundTrip_LiteralTokenLookalikes(t *testing.T) {
	// Strings that already look like back-reference tokens must survive a
	// round trip: they get interned like any other string and decode
	// through their own dictionary slot.
	input := map[string]any{
		"ref":   "~3",
		"other": "~0",
		"tilde": "~",
		"text":  "~notanumber",
	}

	enc, err := Encode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded := Decode(enc.Payload)
	if !reflect.DeepEqual(decoded, normalize(t, input)) {
		t.Errorf("token lookalikes did not round-trip:\n got %#v\nwant %#v", decoded, normalize(t, input))
	}
}

func TestDecode_OutOfRangeReferencePassesThrough(t *testing.T) {
	// A malformed payload referencing a missing slot decodes leniently.
	p := Payload{
		Lookup: []string{"only"},
		Data:   []any{"~0", "~99", "~-1", "plain"},
	}
	decoded := Decode(p)
	want := []any{"only", "~99", "~-1", "plain"}
	if !reflect.DeepEqual(decoded, want) {
		t.Errorf("got %#v, want %#v", decoded, want)
	}
}

func TestEncode_MetricsComputed(t *testing.T) {
	// A value with heavy string repetition should report positive savings.
	rows := make([]any, 20)
	for i := range rows {
		rows[i] = map[string]any{
			"status": "completed", "priority": "high", "owner": "facilities",
		}
	}

	enc, err := Encode(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.Meta.RawLen <= 0 || enc.Meta.ToonLen <= 0 {
		t.Fatalf("sizes not populated: %+v", enc.Meta)
	}
	if enc.Meta.ToonLen >= enc.Meta.RawLen {
		t.Errorf("expected compression on repetitive input: raw=%d toon=%d", enc.Meta.RawLen, enc.Meta.ToonLen)
	}
	if enc.Meta.Savings == "" {
		t.Error("savings string not populated")
	}
}

func TestEncode_NumbersBooleansNullPassThrough(t *testing.T) {
	input := []any{1, 2.5, true, false, nil}
	enc, err := Encode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enc.Payload.Lookup) != 0 {
		t.Errorf("non-string scalars must not be interned, lookup=%v", enc.Payload.Lookup)
	}
	data, ok := enc.Payload.Data.([]any)
	if !ok {
		t.Fatalf("data is %T, want []any", enc.Payload.Data)
	}
	want := []any{float64(1), 2.5, true, false, nil}
	if !reflect.DeepEqual(data, want) {
		t.Errorf("got %#v, want %#v", data, want)
	}
}
