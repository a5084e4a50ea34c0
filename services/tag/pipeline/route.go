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
	"strings"

	"github.com/AleutianAI/AleutianTAG/services/llm"
)

// route picks exactly one branch for the request.
//
// Reads: Rewritten. Writes: Route, Usage.
//
// The keyword heuristic short-circuits to SQL without a model call. On any
// model failure or unrecognized label the router fails open to CHAT, the
// lowest-privilege branch; uncertainty must never reach the database.
func (m *Machine) route(ctx context.Context, s *State) outcome {
	if m.rules.MatchesSQLKeyword(s.Rewritten) {
		s.Route = RouteSQL
		return outcomeSQL
	}

	res, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(routePrompt, s.Rewritten)},
	}, llm.ChatOptions{Temperature: 0, MaxTokens: 10})
	if err != nil {
		m.logger.Warn("intent classification failed, falling back to chat", "error", err)
		s.Route = RouteChat
		return outcomeChat
	}
	s.Usage.Add(res.Usage)

	s.Route = parseRouteLabel(res.Text)
	switch s.Route {
	case RouteSQL:
		return outcomeSQL
	case RouteRetrieval:
		return outcomeRetrieval
	default:
		return outcomeChat
	}
}

// parseRouteLabel finds a route label anywhere in a possibly verbose
// reply. RETRIEVAL is checked before SQL because verbose answers about
// document search sometimes mention SQL in passing; anything unrecognized
// is CHAT.
func parseRouteLabel(reply string) string {
	cleaned := strings.ToUpper(strings.Trim(strings.TrimSpace(reply), "`*\"'. \n"))
	switch {
	case strings.Contains(cleaned, RouteRetrieval):
		return RouteRetrieval
	case strings.Contains(cleaned, RouteSQL):
		return RouteSQL
	case strings.Contains(cleaned, RouteChat):
		return RouteChat
	default:
		return RouteChat
	}
}
