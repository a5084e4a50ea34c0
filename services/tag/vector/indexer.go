// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/sync/errgroup"
)

// ===== Job tracking =====

// Job states, in lifecycle order.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is the observable state of one indexing request.
type Job struct {
	ID        string    `json:"job_id"`
	Status    string    `json:"status"`
	Chunks    int       `json:"chunks"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// indexTask is the internal queue item.
type indexTask struct {
	jobID     string
	content   string
	source    string
	companyID int64
}

// ===== Tuning =====

const (
	indexQueueDepth   = 64
	indexWorkers      = 2
	chunkTargetLength = 1000
)

var (
	indexJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "indexer",
		Name:      "jobs_total",
		Help:      "Indexing jobs by terminal status.",
	}, []string{"status"})

	indexChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tag",
		Subsystem: "indexer",
		Name:      "chunks_total",
		Help:      "Document chunks written to the vector store.",
	})
)

// Indexer ingests documents into the vector store in the background.
//
// Description:
//
//	Submit splits a document into chunks, records a job, and enqueues it;
//	HTTP callers get the job id back immediately and poll for status.
//	A small fixed worker pool embeds chunks and writes them to Weaviate.
//	Every chunk carries the submitting tenant's company_id so search-time
//	filtering holds.
//
// Thread Safety: Safe for concurrent use after Start.
type Indexer struct {
	client   *weaviate.Client
	embedder *Embedder
	logger   *slog.Logger

	queue chan indexTask

	mu   sync.Mutex
	jobs map[string]*Job

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewIndexer creates an indexer. Call Start before Submit.
//
// Inputs:
//
//	client   - Required. Panics if nil.
//	embedder - Required. Panics if nil.
//	logger   - Optional; defaults to slog.Default().
func NewIndexer(client *weaviate.Client, embedder *Embedder, logger *slog.Logger) *Indexer {
	if client == nil {
		panic("vector: NewIndexer requires a weaviate client")
	}
	if embedder == nil {
		panic("vector: NewIndexer requires an embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		client:   client,
		embedder: embedder,
		logger:   logger,
		queue:    make(chan indexTask, indexQueueDepth),
		jobs:     make(map[string]*Job),
	}
}

// Start launches the worker pool. Workers run until Stop is called.
func (ix *Indexer) Start(ctx context.Context) {
	ctx, ix.cancel = context.WithCancel(ctx)
	ix.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < indexWorkers; i++ {
		ix.group.Go(func() error {
			ix.worker(ctx)
			return nil
		})
	}
}

// Stop cancels the workers and waits for them to drain.
func (ix *Indexer) Stop() {
	if ix.cancel != nil {
		ix.cancel()
	}
	if ix.group != nil {
		_ = ix.group.Wait()
	}
}

// Submit enqueues a document for indexing and returns its job id.
//
// Outputs:
//
//	string - Job id for status polling.
//	error  - Non-nil when the content is empty or the queue is full.
func (ix *Indexer) Submit(content, source string, companyID int64) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("document content is empty")
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	ix.mu.Lock()
	ix.jobs[job.ID] = job
	ix.mu.Unlock()

	select {
	case ix.queue <- indexTask{jobID: job.ID, content: content, source: source, companyID: companyID}:
		return job.ID, nil
	default:
		ix.setStatus(job.ID, JobFailed, 0, "indexing queue full")
		indexJobsTotal.WithLabelValues(JobFailed).Inc()
		return "", fmt.Errorf("indexing queue full")
	}
}

// Status returns a copy of the job record for id.
func (ix *Indexer) Status(id string) (*Job, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	job, ok := ix.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

func (ix *Indexer) setStatus(id, status string, chunks int, errMsg string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if job, ok := ix.jobs[id]; ok {
		job.Status = status
		job.Chunks = chunks
		job.Error = errMsg
	}
}

func (ix *Indexer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-ix.queue:
			ix.process(ctx, task)
		}
	}
}

func (ix *Indexer) process(ctx context.Context, task indexTask) {
	ix.setStatus(task.jobID, JobProcessing, 0, "")

	chunks := chunkText(task.content, chunkTargetLength)
	for i, chunk := range chunks {
		vec, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			ix.fail(task.jobID, i, fmt.Errorf("embed chunk %d: %w", i, err))
			return
		}
		_, err = ix.client.Data().Creator().
			WithClassName(DocumentClass).
			WithID(uuid.NewString()).
			WithProperties(map[string]any{
				"content":    chunk,
				"source":     task.source,
				"company_id": task.companyID,
			}).
			WithVector(vec).
			Do(ctx)
		if err != nil {
			ix.fail(task.jobID, i, fmt.Errorf("store chunk %d: %w", i, err))
			return
		}
		indexChunksTotal.Inc()
	}

	ix.setStatus(task.jobID, JobCompleted, len(chunks), "")
	indexJobsTotal.WithLabelValues(JobCompleted).Inc()
	ix.logger.Info("document indexed", "job_id", task.jobID, "chunks", len(chunks), "source", task.source)
}

func (ix *Indexer) fail(jobID string, chunk int, err error) {
	ix.setStatus(jobID, JobFailed, chunk, err.Error())
	indexJobsTotal.WithLabelValues(JobFailed).Inc()
	ix.logger.Error("indexing job failed", "job_id", jobID, "error", err)
}

// chunkText splits text on paragraph boundaries into pieces near target
// length. A paragraph longer than the target becomes its own chunk rather
// than being split mid-sentence.
func chunkText(text string, target int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > target {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
