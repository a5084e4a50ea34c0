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
	"github.com/AleutianAI/AleutianTAG/services/tag/toon"
)

const retrieveLimit = 5

const noDocumentsMsg = "I couldn't find any information about that in the indexed documents."

// retrieve answers from the tenant's document index.
//
// Reads: Rewritten, Tenant. Writes: Answer, Compression, Err, Usage.
//
// Hits are compressed through the codec before entering the prompt; the
// prompt tells the model how to resolve the back-references. Zero hits
// produce a fixed message without a generation call.
func (m *Machine) retrieve(ctx context.Context, s *State) outcome {
	if m.search == nil {
		s.Answer = noDocumentsMsg
		return outcomeOK
	}

	docs, err := m.search.Search(ctx, s.Rewritten, s.Tenant.CompanyID, retrieveLimit)
	if err != nil {
		s.Err = &StageError{Kind: ErrKindRetrieval, Message: err.Error()}
		stageFailuresTotal.WithLabelValues(ErrKindRetrieval).Inc()
		return outcomeFailed
	}
	if len(docs) == 0 {
		s.Answer = noDocumentsMsg
		return outcomeOK
	}

	lookupJSON, dataJSON, meta := compressDocs(docs)
	s.Compression = meta

	answer, err := m.chat.Chat(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(retrievePrompt, lookupJSON, dataJSON, s.Rewritten)},
	}, llm.ChatOptions{Temperature: 0.2, MaxTokens: respondMaxTokens})
	if err != nil {
		s.Err = &StageError{Kind: ErrKindRetrieval, Message: err.Error()}
		stageFailuresTotal.WithLabelValues(ErrKindRetrieval).Inc()
		return outcomeFailed
	}
	s.Usage.Add(answer.Usage)
	s.Answer = answer.Text
	return outcomeOK
}

// compressDocs renders the hit set through the codec. If encoding fails
// the raw documents are used uncompressed; retrieval quality beats token
// savings.
func compressDocs(docs any) (lookupJSON, dataJSON string, meta *toon.Meta) {
	enc, err := toon.Encode(docs)
	if err == nil {
		if l, lerr := json.Marshal(enc.Payload.Lookup); lerr == nil {
			if d, derr := json.Marshal(enc.Payload.Data); derr == nil {
				return string(l), string(d), &enc.Meta
			}
		}
	}
	raw, _ := json.Marshal(docs)
	return "[]", string(raw), nil
}
