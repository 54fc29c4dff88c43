package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/docbook"
	"github.com/poiesic/grundgraph/storage"
)

// ExtractFunc turns a document into an extraction result. It runs on the
// extraction worker pool.
type ExtractFunc func(ctx context.Context, path string, opts core.ProcessingOptions) (*core.ExtractionResult, error)

// Pipeline orchestrates document ingestion jobs.
// It is safe for concurrent use.
type Pipeline struct {
	jobs    storage.JobRepository
	pool    *ants.Pool
	extract ExtractFunc
	broker  *broker
	stages  []processor

	poolSize    int
	batchSize   int
	callTimeout time.Duration
	keepalive   time.Duration
	logger      *slog.Logger

	// baseCtx is cancelled only by Close.
	baseCtx   context.Context
	cancelAll context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run
	closed bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent extractions. Default is 10.
// Further extractions queue until a worker is free.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded and upserted together. Default is 32.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithCallTimeout bounds each embedding, vector store and graph store call. Default is 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("call timeout must be positive, got %s", d)
		}
		p.callTimeout = d
		return nil
	}
}

// WithKeepalive sets the idle interval after which subscribers receive a
// keepalive update. Default is 30s.
func WithKeepalive(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("keepalive must be positive, got %s", d)
		}
		p.keepalive = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithExtractor replaces the DocBook extractor.
func WithExtractor(fn ExtractFunc) Option {
	return func(p *Pipeline) error {
		if fn == nil {
			return errors.New("extractor must not be nil")
		}
		p.extract = fn
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	jobs storage.JobRepository,
	embedder ai.Embedder,
	vectors storage.VectorStore,
	graph storage.GraphStore,
	opts ...Option,
) (*Pipeline, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}

	p := &Pipeline{
		jobs:        jobs,
		broker:      newBroker(),
		poolSize:    10,
		batchSize:   32,
		callTimeout: 30 * time.Second,
		keepalive:   30 * time.Second,
		logger:      slog.Default().With("component", "ingestion"),
		closing:     make(chan struct{}),
		active:      make(map[string]*run),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.extract == nil {
		logger := p.logger
		p.extract = func(_ context.Context, path string, opts core.ProcessingOptions) (*core.ExtractionResult, error) {
			e, err := docbook.NewExtractor(opts, docbook.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return e.Extract(path)
		}
	}

	embeddingProc, err := newEmbeddingProcessor(jobs, embedder, vectors, p.batchSize, p.logger)
	if err != nil {
		return nil, err
	}
	graphProc, err := newGraphProcessor(graph, p.logger)
	if err != nil {
		return nil, err
	}
	p.stages = []processor{embeddingProc, graphProc}

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	p.baseCtx, p.cancelAll = context.WithCancel(context.Background())
	return p, nil
}

// StartProcessing creates a job for the document at filePath and processes it
// in the background. Failures after this returns surface only on the job.
func (p *Pipeline) StartProcessing(ctx context.Context, filePath string, opts core.ProcessingOptions) (*core.JobRecord, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrPipelineClosed
	}

	job, err := p.jobs.CreateJob(ctx, core.JobTypeXMLIngestion, filepath.Base(filePath), filePath, opts)
	if err != nil {
		return nil, err
	}
	if err := p.launch(job); err != nil {
		return nil, err
	}
	p.logger.Info("job started", "job_id", job.ID, "file", filePath)
	return job, nil
}

// Resume re-launches a crashed, failed or resumable job with its stored options.
// Chunks already checkpointed are not processed again.
func (p *Pipeline) Resume(ctx context.Context, jobID string) (*core.JobRecord, error) {
	job, err := p.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if p.isActive(jobID) {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	if !job.Status.CanResume() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotResumable, jobID, job.Status)
	}
	if err := p.launch(job); err != nil {
		return nil, err
	}
	p.logger.Info("job resumed", "job_id", jobID, "status", job.Status, "completed_chunks", job.CompletedChunks)
	return job, nil
}

// Cancel marks a job cancelled. An active run stops at its next checkpoint;
// work already committed is kept.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) (*core.JobRecord, error) {
	job, err := p.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Status)
	}

	status := core.JobCancelled
	updated, err := p.jobs.UpdateJobProgress(ctx, jobID, storage.JobUpdate{Status: &status})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %s", ErrJobTerminal, jobID)
		}
		return nil, err
	}

	p.mu.Lock()
	r := p.active[jobID]
	p.mu.Unlock()
	if r != nil {
		r.cancel()
	}

	p.broker.publish(core.ProgressUpdate{
		JobID:          jobID,
		Stage:          core.StageCancelled,
		Progress:       updated.Progress,
		Message:        "job cancelled",
		ItemsCompleted: updated.CompletedChunks,
		ItemsTotal:     updated.TotalChunks,
		Timestamp:      time.Now().UTC(),
	})
	p.logger.Info("job cancelled", "job_id", jobID, "completed_chunks", updated.CompletedChunks)
	return updated, nil
}

// GetJob returns the persisted state of a job.
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*core.JobRecord, error) {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrJobNotFound, err)
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns all jobs, newest first.
func (p *Pipeline) ListJobs(ctx context.Context) ([]*core.JobRecord, error) {
	return p.jobs.ListJobs(ctx)
}

// ResumableJobs returns jobs interrupted by a restart, newest first.
func (p *Pipeline) ResumableJobs(ctx context.Context) ([]*core.JobRecord, error) {
	return p.jobs.ResumableJobs(ctx)
}

// DeleteJob removes an idle job and its checkpoints.
func (p *Pipeline) DeleteJob(ctx context.Context, jobID string) error {
	if p.isActive(jobID) {
		return fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	deleted, err := p.jobs.DeleteJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	p.broker.reset(jobID)
	return nil
}

// Wait blocks until the job's active run ends, then returns the job.
func (p *Pipeline) Wait(ctx context.Context, jobID string) (*core.JobRecord, error) {
	p.mu.Lock()
	r := p.active[jobID]
	p.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.GetJob(ctx, jobID)
}

// Close stops accepting jobs, interrupts active runs and waits for them.
// Interrupted jobs stay running in the store and are marked resumable on the
// next startup.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.cancelAll()
		close(p.closing)
		p.wg.Wait()
		p.pool.Release()
	})
	return nil
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) isActive(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[jobID]
	return ok
}

// launch registers a run for job and starts it.
func (p *Pipeline) launch(job *core.JobRecord) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	if _, ok := p.active[job.ID]; ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobActive, job.ID)
	}
	r := newRun(job, p)
	p.active[job.ID] = r
	p.wg.Add(1)
	p.mu.Unlock()

	p.broker.reset(job.ID)
	go p.execute(r)
	return nil
}

// execute drives one run and records how it ended. No error escapes it.
func (p *Pipeline) execute(r *run) {
	defer func() {
		p.mu.Lock()
		delete(p.active, r.id())
		p.mu.Unlock()
		close(r.done)
		p.wg.Done()
	}()

	err := p.process(p.baseCtx, r)
	switch {
	case err == nil:
		r.logger.Info("job completed")
	case errors.Is(err, errCancelled):
		r.logger.Info("job stopped after cancellation")
	case p.baseCtx.Err() != nil:
		r.logger.Info("job interrupted by shutdown", "err", err)
	default:
		p.fail(r, err)
	}
}

func (p *Pipeline) process(ctx context.Context, r *run) error {
	running := core.JobRunning
	if err := r.report(ctx, core.StageParsing, progressParsing, "parsing "+r.job.Filename, 0, 0, storage.JobUpdate{Status: &running}); err != nil {
		return err
	}

	result, err := p.runExtraction(ctx, r)
	if err != nil {
		return err
	}
	if err := r.checkCancelled(); err != nil {
		return err
	}

	total := len(result.Chunks)
	msg := fmt.Sprintf("extracted %d entities, %d relationships, %d chunks",
		result.Stats.TotalEntities, result.Stats.TotalRelationships, total)
	if err := r.report(ctx, core.StageExtracting, progressExtracted, msg, 0, total, storage.JobUpdate{
		DocumentID:  &result.DocumentID,
		TotalChunks: &total,
	}); err != nil {
		return err
	}

	for _, stage := range p.stages {
		if err := stage.process(ctx, r, result); err != nil {
			return err
		}
	}

	completed := core.JobCompleted
	if err := r.report(ctx, core.StageCompleted, progressDone, "job completed", total, total, storage.JobUpdate{Status: &completed}); err != nil {
		return err
	}
	return nil
}

type extraction struct {
	result *core.ExtractionResult
	err    error
}

// runExtraction runs the CPU-bound extraction on the worker pool. Submit
// blocks while every worker is busy, which queues the request.
func (p *Pipeline) runExtraction(ctx context.Context, r *run) (*core.ExtractionResult, error) {
	out := make(chan extraction, 1)
	job := r.job
	err := p.pool.Submit(func() {
		result, err := p.extract(ctx, job.FilePath, job.Options)
		out <- extraction{result: result, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling extraction: %w", err)
	}

	select {
	case e := <-out:
		if e.err != nil {
			return nil, fmt.Errorf("extracting %s: %w", job.Filename, e.err)
		}
		return e.result, nil
	case <-r.stop:
		return nil, errCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail records err on the job. A job cancelled meanwhile stays cancelled.
func (p *Pipeline) fail(r *run, err error) {
	r.logger.Error("job failed", "err", err)
	status := core.JobFailed
	msg := err.Error()
	updated, uerr := p.jobs.UpdateJobProgress(p.baseCtx, r.id(), storage.JobUpdate{Status: &status, Error: &msg})
	if uerr != nil {
		if !errors.Is(uerr, storage.ErrInvalidTransition) {
			r.logger.Error("failed to record job failure", "err", uerr)
		}
		return
	}
	p.broker.publish(core.ProgressUpdate{
		JobID:          r.id(),
		Stage:          core.StageFailed,
		Progress:       updated.Progress,
		Message:        "job failed",
		ItemsCompleted: updated.CompletedChunks,
		ItemsTotal:     updated.TotalChunks,
		Error:          msg,
		Timestamp:      time.Now().UTC(),
	})
}
