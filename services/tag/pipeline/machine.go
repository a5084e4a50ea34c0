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
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianTAG/services/llm"
	"github.com/AleutianAI/AleutianTAG/services/tag/config"
	"github.com/AleutianAI/AleutianTAG/services/tag/schema"
	"github.com/AleutianAI/AleutianTAG/services/tag/vector"
)

var tracer = otel.Tracer("aleutian.tag.pipeline")

// ===== Metrics =====

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Pipeline runs by route and terminal status.",
	}, []string{"route", "status"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "pipeline",
		Name:      "retries_total",
		Help:      "Self-correction loops taken back to the synthesizer.",
	})

	stageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Recoverable stage failures by error kind.",
	}, []string{"kind"})
)

// ===== States and outcomes =====

type stage string

const (
	stageRewrite    stage = "rewrite"
	stageRoute      stage = "route"
	stageSelect     stage = "select"
	stageSynthesize stage = "synthesize"
	stageValidate   stage = "validate"
	stageExecute    stage = "execute"
	stageRespond    stage = "respond"
	stageRetrieve   stage = "retrieve"
	stageChat       stage = "chat"
	stageDone       stage = "done"
)

type outcome string

const (
	outcomeOK        outcome = "ok"
	outcomeSQL       outcome = "sql"
	outcomeRetrieval outcome = "retrieval"
	outcomeChat      outcome = "chat"
	outcomeSkip      outcome = "skip"
	outcomeRetry     outcome = "retry"
	outcomeFailed    outcome = "failed"
)

type transitionKey struct {
	from stage
	out  outcome
}

// transitions is the whole control-flow graph. The retry bound lives in the
// gate that picks outcomeRetry vs outcomeFailed, not here, so the table
// stays a pure lookup.
var transitions = map[transitionKey]stage{
	{stageRewrite, outcomeOK}: stageRoute,

	{stageRoute, outcomeSQL}:       stageSelect,
	{stageRoute, outcomeRetrieval}: stageRetrieve,
	{stageRoute, outcomeChat}:      stageChat,

	{stageSelect, outcomeOK}:     stageSynthesize,
	{stageSelect, outcomeFailed}: stageRespond,

	{stageSynthesize, outcomeOK}:     stageValidate,
	{stageSynthesize, outcomeSkip}:   stageRespond,
	{stageSynthesize, outcomeRetry}:  stageSynthesize,
	{stageSynthesize, outcomeFailed}: stageRespond,

	{stageValidate, outcomeOK}:     stageExecute,
	{stageValidate, outcomeRetry}:  stageSynthesize,
	{stageValidate, outcomeFailed}: stageRespond,

	{stageExecute, outcomeOK}:     stageRespond,
	{stageExecute, outcomeRetry}:  stageSynthesize,
	{stageExecute, outcomeFailed}: stageRespond,

	{stageRespond, outcomeOK}:      stageDone,
	{stageRetrieve, outcomeOK}:     stageDone,
	{stageRetrieve, outcomeFailed}: stageRespond,
	{stageChat, outcomeOK}:         stageDone,
}

// maxSteps is a hard cap on driver iterations; with MaxRetries generation
// attempts the longest legal path is well under this.
const maxSteps = 32

// ===== Collaborator interfaces =====

// TableSelector narrows the tenant catalog for one query.
type TableSelector interface {
	Select(ctx context.Context, dsn, query string) (*schema.Selection, error)
}

// Database executes validated statements.
type Database interface {
	Run(ctx context.Context, dsn, sql string) ([]map[string]any, error)
	Total(ctx context.Context, dsn, sql string, fallback int64) int64
}

// PersonResolver grounds names to ids.
type PersonResolver interface {
	Resolve(ctx context.Context, dsn, query string, companyID int64) map[string][]int64
}

// Retriever runs tenant-filtered similarity search.
type Retriever interface {
	Search(ctx context.Context, query string, companyID int64, limit int) ([]vector.Document, error)
}

// CacheStore is the best-effort KV layer for generated statements.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// ===== Machine =====

// Machine is the request orchestrator. Construct one at startup and pass
// it into every handler; it holds no per-request state.
//
// Thread Safety: Safe for concurrent use; all mutable state lives in the
// per-run State value.
type Machine struct {
	chat     llm.ChatClient
	selector TableSelector
	db       Database
	persons  PersonResolver
	search   Retriever
	cache    CacheStore
	rules    *config.RoutingRules
	logger   *slog.Logger
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Chat     llm.ChatClient
	Selector TableSelector
	DB       Database
	Persons  PersonResolver
	Search   Retriever
	Cache    CacheStore
	Rules    *config.RoutingRules
	Logger   *slog.Logger
}

// NewMachine builds the orchestrator.
//
// Inputs:
//
//	opts.Chat     - Required. Panics if nil.
//	opts.Selector - Required for the SQL branch. Panics if nil.
//	opts.DB       - Required for the SQL branch. Panics if nil.
//	opts.Persons  - Optional; nil skips name grounding.
//	opts.Search   - Optional; nil makes the retrieval branch answer that
//	                no documents are available.
//	opts.Cache    - Optional; nil disables statement caching.
//	opts.Rules    - Optional; defaults to the embedded rule set.
//	opts.Logger   - Optional; defaults to slog.Default().
func NewMachine(opts Options) *Machine {
	if opts.Chat == nil {
		panic("pipeline: NewMachine requires a chat client")
	}
	if opts.Selector == nil {
		panic("pipeline: NewMachine requires a table selector")
	}
	if opts.DB == nil {
		panic("pipeline: NewMachine requires a database")
	}
	if opts.Rules == nil {
		opts.Rules = config.DefaultRoutingRules()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Machine{
		chat:     opts.Chat,
		selector: opts.Selector,
		db:       opts.DB,
		persons:  opts.Persons,
		search:   opts.Search,
		cache:    opts.Cache,
		rules:    opts.Rules,
		logger:   opts.Logger,
	}
}

// Run drives one request through the state machine to a terminal result.
//
// Description:
//
//	The driver loop looks up (stage, outcome) in the transition table until
//	it reaches the done state. Recoverable failures never surface as Go
//	errors; they are folded into the result by the respond stage. The
//	returned error is reserved for faults the machine itself cannot absorb
//	(an impossible transition), which indicates a defect.
//
// Outputs:
//
//	*Result - Terminal payload. Non-nil whenever error is nil.
//	error   - Non-nil only on internal state-machine faults.
func (m *Machine) Run(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	s := &State{
		Conversation: req.Conversation,
		Tenant:       req.Tenant,
	}
	if n := len(req.Conversation); n > 0 {
		s.Query = req.Conversation[n-1].Content
	}

	current := stageRewrite
	for step := 0; current != stageDone; step++ {
		if step >= maxSteps {
			return nil, fmt.Errorf("pipeline exceeded %d steps at stage %s", maxSteps, current)
		}

		out := m.runStage(ctx, current, s)
		next, ok := transitions[transitionKey{current, out}]
		if !ok {
			return nil, fmt.Errorf("no transition from stage %s on outcome %s", current, out)
		}
		if out == outcomeRetry {
			retriesTotal.Inc()
		}
		m.logger.Debug("stage complete", "stage", string(current), "outcome", string(out), "next", string(next))
		current = next
	}

	status := StatusOK
	if s.Err != nil {
		status = StatusError
	}
	span.SetAttributes(
		attribute.String("route", s.Route),
		attribute.String("status", status),
		attribute.Int("retries", s.RetryCount),
	)
	requestsTotal.WithLabelValues(s.Route, status).Inc()

	res := &Result{
		SessionID:   req.SessionID,
		Status:      status,
		Answer:      s.Answer,
		Route:       s.Route,
		Compression: s.Compression,
		Usage:       s.Usage,
	}
	if s.Exec != nil {
		res.SQL = SQLInfo{
			Ran:         true,
			Cached:      s.SQLCached,
			Query:       s.SQL,
			RowCount:    s.Exec.TotalCount,
			RowsPreview: s.Exec.Preview,
		}
	} else if s.SQL != "" && s.SQL != SkipSQL {
		res.SQL = SQLInfo{Cached: s.SQLCached, Query: s.SQL}
	}
	return res, nil
}

func (m *Machine) runStage(ctx context.Context, st stage, s *State) outcome {
	ctx, span := tracer.Start(ctx, "pipeline."+string(st))
	defer span.End()

	switch st {
	case stageRewrite:
		return m.rewrite(ctx, s)
	case stageRoute:
		return m.route(ctx, s)
	case stageSelect:
		return m.selectTables(ctx, s)
	case stageSynthesize:
		return m.synthesize(ctx, s)
	case stageValidate:
		return m.validate(ctx, s)
	case stageExecute:
		return m.execute(ctx, s)
	case stageRespond:
		return m.respond(ctx, s)
	case stageRetrieve:
		return m.retrieve(ctx, s)
	case stageChat:
		return m.chatStage(ctx, s)
	}
	return outcomeFailed
}

// gate turns a recorded stage error into a retry or a terminal failure.
// The budget compares against generation attempts already spent, so the
// synthesizer can never run more than MaxRetries times.
func (m *Machine) gate(s *State) outcome {
	stageFailuresTotal.WithLabelValues(s.Err.Kind).Inc()
	if s.RetryCount < MaxRetries {
		return outcomeRetry
	}
	m.logger.Warn("retry budget exhausted",
		"kind", s.Err.Kind, "retries", s.RetryCount, "company_id", s.Tenant.CompanyID)
	return outcomeFailed
}
