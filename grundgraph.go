// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package grundgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/ai/openai"
	"github.com/poiesic/grundgraph/config"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/ingestion"
	"github.com/poiesic/grundgraph/search"
	"github.com/poiesic/grundgraph/storage"
	"github.com/poiesic/grundgraph/storage/badger"
	"github.com/poiesic/grundgraph/storage/sqlite"
)

// ErrDocumentIDRequired is returned when deleting a document without an ID.
var ErrDocumentIDRequired = errors.New("document id is required")

// Service owns the stores, the embedding provider, the ingestion pipeline
// and the searcher of one data directory.
type Service struct {
	cfg      *config.Config
	backend  *badger.Backend
	jobs     *badger.JobRepository
	vectors  *badger.VectorStore
	graph    *sqlite.GraphStore
	provider ai.AIProvider
	pipeline *ingestion.Pipeline
	searcher *search.Searcher
	logger   *slog.Logger

	recovered int
	expired   int
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	provider  ai.AIProvider
	logger    *slog.Logger
	extractor ingestion.ExtractFunc
}

// WithProvider replaces the OpenAI-compatible provider built from the
// configuration. The service closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *serviceOptions) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithExtractor replaces the DocBook extractor used by the pipeline.
func WithExtractor(fn ingestion.ExtractFunc) Option {
	return func(o *serviceOptions) {
		o.extractor = fn
	}
}

// Open opens the data directory of cfg. Jobs left running by a previous
// process are marked resumable and expired jobs are removed before Open
// returns, so no job is accepted ahead of recovery. A nil cfg uses
// config.Default().
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		logger: options.logger.With("component", "grundgraph"),
	}
	if err := s.open(ctx, options); err != nil {
		if cerr := s.Close(); cerr != nil {
			s.logger.Error("error closing after failed open", "err", cerr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context, options *serviceOptions) error {
	var err error
	if s.backend, err = badger.OpenBackend(s.cfg.JobsPath(), false); err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	if s.jobs, err = badger.NewJobRepository(s.backend); err != nil {
		return err
	}
	s.vectors = badger.NewVectorStore(s.backend)

	s.graph, err = sqlite.Open(s.cfg.GraphPath(), sqlite.WithDepthLimits(s.cfg.Graph.DefaultDepth, s.cfg.Graph.MaxDepth))
	if err != nil {
		return fmt.Errorf("opening graph store: %w", err)
	}

	s.provider = options.provider
	if s.provider == nil {
		if s.provider, err = openai.NewProvider(s.cfg.AI()); err != nil {
			return err
		}
	}

	if err := s.recover(ctx); err != nil {
		return err
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithPoolSize(s.cfg.Pipeline.Workers),
		ingestion.WithBatchSize(s.cfg.Pipeline.BatchSize),
		ingestion.WithCallTimeout(s.cfg.Pipeline.CallTimeout),
		ingestion.WithKeepalive(s.cfg.Pipeline.Keepalive),
		ingestion.WithLogger(options.logger.With("component", "ingestion")),
	}
	if options.extractor != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithExtractor(options.extractor))
	}
	embedder := s.provider.Embedder()
	if s.pipeline, err = ingestion.NewPipeline(s.jobs, embedder, s.vectors, s.graph, pipelineOpts...); err != nil {
		return err
	}

	s.searcher, err = search.NewSearcher(s.vectors, s.graph, embedder,
		search.WithCollection(s.Collection()),
		search.WithLogger(options.logger.With("component", "search")),
	)
	return err
}

// recover relabels interrupted jobs and applies the retention policy.
func (s *Service) recover(ctx context.Context) error {
	n, err := s.jobs.MarkInterruptedResumable(ctx)
	if err != nil {
		return fmt.Errorf("recovering interrupted jobs: %w", err)
	}
	s.recovered = n
	if n > 0 {
		s.logger.Info("marked interrupted jobs resumable", "count", n)
	}
	if s.expired, err = s.CleanupOldJobs(ctx); err != nil {
		return err
	}
	return nil
}

// CleanupOldJobs removes finished jobs older than the configured retention.
// Nothing is removed when retention is zero.
func (s *Service) CleanupOldJobs(ctx context.Context) (int, error) {
	retention := s.cfg.Retention()
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.jobs.CleanupOldJobs(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("cleaning up old jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("removed expired jobs", "count", n, "retention", retention)
	}
	return n, nil
}

// DeleteDocument removes a document's chunks from every collection its jobs
// wrote to, plus the default collection, and its nodes from the graph.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) (points, nodes int, err error) {
	if documentID == "" {
		return 0, 0, ErrDocumentIDRequired
	}
	collections, err := s.documentCollections(ctx, documentID)
	if err != nil {
		return 0, 0, err
	}
	for _, collection := range collections {
		n, err := s.vectors.DeleteByDocument(ctx, collection, documentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return points, 0, fmt.Errorf("deleting chunks of %s from %s: %w", documentID, collection, err)
		}
		points += n
	}
	nodes, err = s.graph.DeleteNodesForDocument(ctx, documentID)
	if err != nil {
		return points, 0, fmt.Errorf("deleting nodes of %s: %w", documentID, err)
	}
	s.logger.Info("deleted document", "document_id", documentID, "collections", collections, "points", points, "nodes", nodes)
	return points, nodes, nil
}

func (s *Service) documentCollections(ctx context.Context, documentID string) ([]string, error) {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing jobs of %s: %w", documentID, err)
	}
	collections := []string{s.Collection()}
	for _, job := range jobs {
		if job.DocumentID != documentID {
			continue
		}
		if name := job.Options.WithDefaults().CollectionName; !slices.Contains(collections, name) {
			collections = append(collections, name)
		}
	}
	return collections, nil
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Collection is the vector collection used when options don't name one.
func (s *Service) Collection() string {
	return s.ProcessingDefaults().CollectionName
}

// ProcessingDefaults returns the configured processing options.
func (s *Service) ProcessingDefaults() core.ProcessingOptions {
	return s.cfg.Processing.WithDefaults()
}

// Recovered is the number of interrupted jobs marked resumable by Open.
func (s *Service) Recovered() int {
	return s.recovered
}

// Expired is the number of finished jobs removed by Open.
func (s *Service) Expired() int {
	return s.expired
}

func (s *Service) Pipeline() *ingestion.Pipeline {
	return s.pipeline
}

func (s *Service) Searcher() *search.Searcher {
	return s.searcher
}

func (s *Service) Jobs() storage.JobRepository {
	return s.jobs
}

func (s *Service) Vectors() storage.VectorStore {
	return s.vectors
}

func (s *Service) Graph() storage.GraphStore {
	return s.graph
}

func (s *Service) Embedder() ai.Embedder {
	return s.provider.Embedder()
}

// Close stops the pipeline and releases every store. Jobs still running stay
// running in the job store and are marked resumable by the next Open.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Service) close() error {
	var errs []error
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			s.logger.Error("error closing pipeline", "err", err)
			errs = append(errs, err)
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}
	if s.graph != nil {
		if err := s.graph.Close(); err != nil {
			s.logger.Error("error closing graph store", "err", err)
			errs = append(errs, err)
		}
	}
	if s.jobs != nil {
		if err := s.jobs.Close(); err != nil {
			s.logger.Error("error closing job repository", "err", err)
			errs = append(errs, err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
