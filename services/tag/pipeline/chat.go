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

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// chatStage produces a personalized conversational reply.
//
// Reads: Rewritten, Tenant. Writes: Answer, Usage.
func (m *Machine) chatStage(ctx context.Context, s *State) outcome {
	firstName := s.Tenant.FirstName
	if firstName == "" {
		firstName = "there"
	}
	companyName := s.Tenant.CompanyName
	if companyName == "" {
		companyName = "your facility"
	}

	res, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(chatPrompt, companyName, firstName, s.Rewritten)},
	}, llm.ChatOptions{Temperature: 0.7, MaxTokens: respondMaxTokens})
	if err != nil {
		m.logger.Warn("chat reply failed, using canned greeting", "error", err)
		s.Answer = fmt.Sprintf("Hi %s! I can help you look up tasks, assets, schedules, and documents. What would you like to know?", firstName)
		return outcomeOK
	}
	s.Usage.Add(res.Usage)
	s.Answer = res.Text
	return outcomeOK
}
