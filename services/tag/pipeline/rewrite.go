// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// Bounded history window shown to the rewrite model.
const (
	rewriteWindowTurns = 4
	rewriteTurnMaxLen  = 200
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
)

// redactPII masks email addresses and phone numbers before the text is
// sent to any model or written to any cache key.
func redactPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[email]")
	return phoneRe.ReplaceAllString(text, "[phone]")
}

// rewrite resolves the latest turn against recent history.
//
// Reads: Conversation, Query. Writes: Query (redacted), Rewritten, Usage.
//
// Single-turn conversations pass through untouched; a model failure also
// passes through, since the raw turn is always a usable fallback.
func (m *Machine) rewrite(ctx context.Context, s *State) outcome {
	s.Query = redactPII(s.Query)

	if len(s.Conversation) <= 1 {
		s.Rewritten = s.Query
		return outcomeOK
	}

	history := s.Conversation[:len(s.Conversation)-1]
	if len(history) > rewriteWindowTurns {
		history = history[len(history)-rewriteWindowTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncate(redactPII(turn.Content), rewriteTurnMaxLen))
	}

	res, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(rewritePrompt, b.String(), s.Query)},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		m.logger.Warn("context rewrite failed, using raw query", "error", err)
		s.Rewritten = s.Query
		return outcomeOK
	}
	s.Usage.Add(res.Usage)

	rewritten := strings.TrimSpace(res.Text)
	if rewritten == "" {
		rewritten = s.Query
	}
	s.Rewritten = rewritten
	return outcomeOK
}

// truncate cuts on a rune boundary so a multi-byte character is never
// split into invalid UTF-8.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
