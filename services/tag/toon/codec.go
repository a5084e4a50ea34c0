// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toon implements the Token-Oriented Object Notation codec:
// dictionary-based compression for JSON-like structures. Repeated strings
// (both object keys and string values) are replaced with back-reference
// tokens ("~N") into a shared lookup table, shrinking structured payloads
// before they enter an LLM prompt or a response body.
package toon

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// refMarker prefixes every back-reference token. A token is the marker
// followed by a decimal index into the lookup table ("~0", "~17").
const refMarker = "~"

// Payload is the wire form of a compressed value.
//
// Description:
//
//	Lookup holds every distinct string from the input, in the order it was
//	first seen during traversal. Data is a structurally identical copy of
//	the input in which every string (key or value) has been replaced by a
//	back-reference token. Non-string scalars pass through unchanged.
type Payload struct {
	Lookup []string `json:"lookup"`
	Data   any      `json:"data"`
}

// Meta reports compression effectiveness for observability.
type Meta struct {
	RawLen  int    `json:"raw_len"`
	ToonLen int    `json:"toon_len"`
	Savings string `json:"savings"`
}

// Encoded bundles a payload with its size metrics.
type Encoded struct {
	Payload Payload `json:"payload"`
	Meta    Meta    `json:"meta"`
}

// encoder accumulates the lookup table during one Encode call.
// Not safe for concurrent use; Encode creates a fresh one per call.
type encoder struct {
	lookup  []string
	reverse map[string]int
}

// Encode compresses a JSON-serializable value into TOON form.
//
// Description:
//
//	The value is first normalized through a JSON round-trip so that structs,
//	time.Time, and numeric types collapse to the generic JSON shape
//	(map[string]any, []any, string, float64, bool, nil). The normalized
//	value is then walked recursively: object keys are visited in sorted
//	order (Go maps have no insertion order) so output is deterministic, and
//	every string is interned into the lookup table exactly once, with every
//	later occurrence reusing the same index.
//
// Inputs:
//
//	v - Any JSON-serializable value. Strings that already look like
//	    back-reference tokens are safe: they are interned like any other
//	    string and round-trip exactly.
//
// Outputs:
//
//	*Encoded - Compressed payload plus size metrics. Never nil on success.
//	error    - Non-nil only if v cannot be JSON-serialized.
func Encode(v any) (*Encoded, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toon encode: normalize input: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("toon encode: renormalize input: %w", err)
	}

	enc := &encoder{reverse: make(map[string]int)}
	data := enc.compress(normalized)

	payload := Payload{Lookup: enc.lookup, Data: data}
	if payload.Lookup == nil {
		payload.Lookup = []string{}
	}

	compressed, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("toon encode: serialize payload: %w", err)
	}

	savings := 0.0
	if len(raw) > 0 {
		savings = float64(len(raw)-len(compressed)) / float64(len(raw)) * 100.0
	}

	return &Encoded{
		Payload: payload,
		Meta: Meta{
			RawLen:  len(raw),
			ToonLen: len(compressed),
			Savings: fmt.Sprintf("%.2f%%", savings),
		},
	}, nil
}

// Decode expands a TOON payload back into the original structure.
//
// Description:
//
//	Walks the data recursively, replacing every string shaped like a
//	back-reference token with its lookup entry. Tokens whose index is out
//	of range, and strings that merely resemble tokens without being valid
//	ones, pass through literally rather than raising an error. A literal
//	input string that looked like a token before encoding was interned into
//	the lookup table, so it decodes through its own dictionary slot and
//	round-trips exactly.
func Decode(p Payload) any {
	return decompress(p.Data, p.Lookup)
}

func (e *encoder) compress(node any) any {
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(n))
		for _, k := range keys {
			out[e.ref(k)] = e.compress(n[k])
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = e.compress(item)
		}
		return out
	case string:
		return e.ref(n)
	default:
		return n
	}
}

// ref interns s into the lookup table and returns its back-reference token.
// The first occurrence allocates the next sequential index; later
// occurrences of the identical string reuse it.
func (e *encoder) ref(s string) string {
	idx, ok := e.reverse[s]
	if !ok {
		idx = len(e.lookup)
		e.lookup = append(e.lookup, s)
		e.reverse[s] = idx
	}
	return refMarker + strconv.Itoa(idx)
}

func decompress(node any, lookup []string) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[resolve(k, lookup)] = decompress(v, lookup)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = decompress(item, lookup)
		}
		return out
	case string:
		return resolve(n, lookup)
	default:
		return n
	}
}

// resolve maps a back-reference token to its lookup entry. Anything that is
// not a well-formed in-range token passes through unchanged.
func resolve(s string, lookup []string) string {
	if !strings.HasPrefix(s, refMarker) {
		return s
	}
	idx, err := strconv.Atoi(s[len(refMarker):])
	if err != nil || idx < 0 || idx >= len(lookup) {
		return s
	}
	return lookup[idx]
}
