package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// embeddingProcessor embeds chunks, upserts them as vectors and checkpoints
// each stored chunk in the job repository.
type embeddingProcessor struct {
	jobs      storage.JobRepository
	embedder  ai.Embedder
	vectors   storage.VectorStore
	batchSize int
	logger    *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(jobs storage.JobRepository, embedder ai.Embedder, vectors storage.VectorStore, batchSize int, logger *slog.Logger) (*embeddingProcessor, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		jobs:      jobs,
		embedder:  embedder,
		vectors:   vectors,
		batchSize: batchSize,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

// process stores every chunk that is not yet checkpointed, in document order.
func (ep *embeddingProcessor) process(ctx context.Context, r *run, result *core.ExtractionResult) error {
	total := len(result.Chunks)
	done, err := ep.jobs.CompletedChunks(ctx, r.id())
	if err != nil {
		return fmt.Errorf("loading completed chunks: %w", err)
	}

	pending := make([]core.Chunk, 0, total)
	for _, c := range result.Chunks {
		if _, ok := done[c.ID]; !ok {
			pending = append(pending, c)
		}
	}
	completed := total - len(pending)
	ep.logger.Info("storing chunks", "job_id", r.id(), "total", total, "pending", len(pending))

	collection := r.job.Options.CollectionName
	ensured := false
	for start := 0; start < len(pending); start += ep.batchSize {
		if err := r.checkCancelled(); err != nil {
			return err
		}
		batch := pending[start:min(start+ep.batchSize, len(pending))]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		var vectors [][]float32
		err := r.call(ctx, "embedding chunks", func(ctx context.Context) error {
			var err error
			vectors, err = ep.embedder.EmbedTexts(ctx, texts)
			return err
		})
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", ai.ErrEmbeddingCount, len(vectors), len(batch))
		}

		if !ensured {
			dim := ep.embedder.Dimension()
			if dim == 0 {
				dim = len(vectors[0])
			}
			if err := r.call(ctx, "creating collection", func(ctx context.Context) error {
				return ep.vectors.EnsureCollection(ctx, collection, dim)
			}); err != nil {
				return err
			}
			ensured = true
		}

		points := make([]storage.Point, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			points[i] = storage.Point{
				ID:      c.ID,
				Vector:  vectors[i],
				Payload: payloadFor(c, result),
			}
			ids[i] = c.ID
		}
		if err := r.call(ctx, "upserting vectors", func(ctx context.Context) error {
			return ep.vectors.Upsert(ctx, collection, points)
		}); err != nil {
			return err
		}

		// A crash before this point re-upserts the batch on resume; upserts are idempotent.
		if err := ep.jobs.MarkChunksCompleted(ctx, r.id(), ids...); err != nil {
			return fmt.Errorf("checkpointing chunks: %w", err)
		}
		completed += len(batch)
		ep.logger.Debug("stored chunk batch", "job_id", r.id(), "completed", completed, "total", total)

		progress := progressExtracted + (progressStored-progressExtracted)*float64(completed)/float64(total)
		msg := fmt.Sprintf("stored %d of %d chunks", completed, total)
		if err := r.report(ctx, core.StageStoringVectors, progress, msg, completed, total, storage.JobUpdate{}); err != nil {
			return err
		}
	}

	return r.report(ctx, core.StageStoringVectors, progressStored, fmt.Sprintf("stored %d chunks", total), total, total, storage.JobUpdate{})
}

// payloadFor builds the vector payload of a chunk. Bookmark IDs are already
// empty when bookmark tracking is disabled.
func payloadFor(c core.Chunk, result *core.ExtractionResult) storage.Payload {
	return storage.Payload{
		Content:         c.Content,
		DocumentID:      result.DocumentID,
		Filename:        result.Filename,
		EntityID:        c.EntityID,
		EntityType:      c.EntityType,
		ChunkIndex:      c.Index,
		TotalChunks:     c.Total,
		BookmarkID:      c.BookmarkID,
		GlossaryTermIDs: c.GlossaryTermIDs,
		Metadata:        c.Metadata,
	}
}
