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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// Presentation bounds for the answer prompt.
const (
	respondPreviewRows    = 10
	respondEnumerateLimit = 10
	respondMaxTokens      = 400
)

// respond composes the terminal answer.
//
// Reads: Err, Clarification, Answer, Rewritten, Exec. Writes: Answer, Usage.
//
// A recorded error short-circuits to a fixed apologetic message with no
// further model calls; a clarification passes through as-is. Otherwise the
// model phrases the answer from a bounded summary of the results.
func (m *Machine) respond(ctx context.Context, s *State) outcome {
	if s.Err != nil {
		s.Answer = fmt.Sprintf(
			"I'm sorry, I wasn't able to complete that request. The last attempt failed with: %s",
			s.Err.Message)
		return outcomeOK
	}
	if s.Clarification {
		return outcomeOK
	}
	if s.Exec == nil {
		// Nothing executed and nothing failed; should not happen, but a
		// blank answer is worse than an honest one.
		s.Answer = "I wasn't able to find anything for that request."
		return outcomeOK
	}

	sample := s.Exec.Preview
	if len(sample) > respondPreviewRows {
		sample = sample[:respondPreviewRows]
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		sampleJSON = []byte("[]")
	}

	res, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(respondPrompt,
			s.Rewritten, s.Exec.TotalCount, sampleJSON, respondEnumerateLimit)},
	}, llm.ChatOptions{Temperature: 0.2, MaxTokens: respondMaxTokens})
	if err != nil {
		m.logger.Warn("answer composition failed, using deterministic summary", "error", err)
		s.Answer = fmt.Sprintf("The query ran successfully and matched %d records.", s.Exec.TotalCount)
		return outcomeOK
	}
	s.Usage.Add(res.Usage)
	s.Answer = res.Text
	return outcomeOK
}
