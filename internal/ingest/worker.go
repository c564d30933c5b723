// Package ingest turns text and web pages into knowledge chunks through a
// background job queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/knowledge"
	"github.com/kalambet/cybermentor/internal/storage"
)

// JobIndexSource is the job type that indexes one source.
const JobIndexSource = "index_source"

// Source types.
const (
	TypeText = "text"
	TypeFile = "file"
	TypeURL  = "url"
)

// JobStore abstracts the job queue and source registry operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	UpsertSource(ctx context.Context, src storage.Source) error
}

// ChunkWriter stores chunks in the knowledge index. *knowledge.Index
// implements it.
type ChunkWriter interface {
	ReplaceSource(ctx context.Context, source string, chunks []knowledge.Chunk) ([]knowledge.Chunk, int, error)
}

// Request describes one source to index. Content is used for text and file
// sources, URL for url sources.
type Request struct {
	Source  string `json:"source" validate:"required_without=URL"`
	Type    string `json:"type" validate:"omitempty,oneof=text file url"`
	Content string `json:"content,omitempty" validate:"required_without=URL"`
	URL     string `json:"url,omitempty" validate:"omitempty,url"`
	Summary string `json:"summary,omitempty"`
}

// Normalize fills the type from the fields present.
func (r *Request) Normalize() {
	r.Source = strings.TrimSpace(r.Source)
	if r.Type == "" {
		r.Type = TypeText
		if r.URL != "" && r.Content == "" {
			r.Type = TypeURL
		}
	}
	if r.Type == TypeURL && r.Source == "" {
		r.Source = r.URL
	}
}

// Submit queues req for indexing and returns the job ID.
func Submit(ctx context.Context, store JobStore, req Request) (string, error) {
	req.Normalize()
	if req.Source == "" {
		return "", errors.New("source is required")
	}
	if req.Type == TypeURL && req.URL == "" {
		return "", errors.New("url is required for url sources")
	}
	if req.Type != TypeURL && strings.TrimSpace(req.Content) == "" {
		return "", errors.New("content is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobIndexSource,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueuing job: %w", err)
	}
	return job.ID, nil
}

// Worker processes index_source jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	index   ChunkWriter
	fetcher Fetcher
	gen     engine.Generator
	poll    time.Duration
	logger  *zap.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, index ChunkWriter, fetcher Fetcher, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:   store,
		index:   index,
		fetcher: fetcher,
		poll:    pollInterval,
		logger:  logger,
	}
}

// WithGenerator enables summaries and suggested questions for indexed
// sources. Without a generator both are skipped.
func (w *Worker) WithGenerator(gen engine.Generator) *Worker {
	w.gen = gen
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_source job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobIndexSource})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(err))
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var req Request
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	req.Normalize()

	text := req.Content
	if req.Type == TypeURL {
		var err error
		if text, err = w.fetcher.Fetch(ctx, req.URL); err != nil {
			return err
		}
	}

	parts := Split(text, DefaultChunkSize, DefaultChunkOverlap)
	if len(parts) == 0 {
		return fmt.Errorf("source %s has no text", req.Source)
	}

	chunks := make([]knowledge.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = knowledge.Chunk{Content: p, Source: req.Source, SourceType: req.Type, ChunkIndex: i}
	}
	// Re-indexing a source replaces its previous chunks only once the new
	// ones are embedded and stored.
	stored, removed, err := w.index.ReplaceSource(ctx, req.Source, chunks)
	if err != nil {
		return err
	}

	summary := req.Summary
	if summary == "" {
		summary = w.summarize(ctx, req.Source, text)
	}
	if err := w.store.UpsertSource(ctx, storage.Source{
		Name:       req.Source,
		Type:       req.Type,
		Size:       int64(len(text)),
		Chunks:     len(stored),
		UploadedAt: time.Now().UTC(),
		Summary:    summary,

		SuggestedQuestions: w.suggestQuestions(ctx, req.Source, text),
	}); err != nil {
		return fmt.Errorf("recording source %s: %w", req.Source, err)
	}

	w.logger.Info("source indexed",
		zap.String("source", req.Source),
		zap.String("type", req.Type),
		zap.Int("chunks", len(stored)),
		zap.Int("replaced", removed),
	)
	return nil
}
