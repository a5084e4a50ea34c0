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

// Prompt templates for every model-calling stage. Kept together so the
// instruction surface of the pipeline can be reviewed in one place.

const rewritePrompt = `Rewrite the latest user message as a single self-contained request,
resolving pronouns and references using the conversation below. If the
message is already self-contained, return it unchanged. Reply with the
rewritten request only.

Conversation:
%s

Latest message: %s`

const routePrompt = `Classify the user request into exactly one category:
SQL - asks about structured operational data (counts, lists, statuses, assignments, records).
RETRIEVAL - asks about document content, manuals, policies, or procedures.
CHAT - greetings, small talk, questions about you, or anything else.

Reply with the single word SQL, RETRIEVAL, or CHAT.

Request: %s`

const synthesizePrompt = `You translate user requests into a single PostgreSQL statement.

Schema:
%s
%s%s%s
Rules:
- Use only the tables and columns shown above.
- Reply with JSON only, one of:
  {"type": "sql", "query": "<statement>"}
  {"type": "text", "message": "<clarifying question for the user>"}
- Ask for clarification instead of guessing when the request is ambiguous.

Request: %s`

// synthesizeRLS is spliced into the prompt for every non-privileged role.
const synthesizeRLS = `Security context: acting user id %s, company id %d, role %s.
Every statement MUST restrict results to company_id = %d.
`

const synthesizeRLSExempt = `Security context: acting user id %s, role %s (unrestricted).
`

const synthesizePersons = `Resolved people (filter by these ids, never by name text):
%s
`

const synthesizeRetry = `Your previous statement failed. Error:
%s
Produce a corrected statement.
`

const respondPrompt = `Answer the user's request using only the query results below.

Request: %s

Total matching records: %d
Result sample (JSON):
%s

Rules:
- Never show raw id columns or numeric identifiers to the user.
- If the user is meant to pick an option, list the options by name.
- If there are more than %d records, summarize instead of enumerating.
- Be concise and factual; do not invent data beyond the results.`

const retrievePrompt = `Answer the user's question using only the documents below.

The documents are compressed: strings of the form ~N are references into
the lookup list, where N is a zero-based index. Resolve every ~N to
lookup[N] when reading.

Lookup:
%s

Documents:
%s

Question: %s

Cite the source of what you use. If the documents do not contain the
answer, say so plainly.`

const chatPrompt = `You are the operations assistant for %s, speaking with %s.
Respond warmly and briefly. You do not have direct access to facility or
database records in this conversation; if asked about tasks, assets,
schedules, or documents, invite the user to ask the question directly so
it can be looked up. Never invent facility facts.

Message: %s`
