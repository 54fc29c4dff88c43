package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/storage"
)

// BatchProcessor embeds batches of points again and writes them to a target collection.
type BatchProcessor struct {
	vectors        storage.VectorStore
	embedder       ai.Embedder
	target         string
	maxRetries     int
	retryBaseDelay time.Duration
	ensured        bool
}

// NewBatchProcessor creates a new batch processor writing to target.
// maxRetries: maximum number of attempts for embedding and upsert calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(vectors storage.VectorStore, embedder ai.Embedder, target string, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		vectors:        vectors,
		embedder:       embedder,
		target:         target,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the payload content of each point and upserts the points
// with the new, normalized vectors. IDs and payloads are kept.
// The target collection is created on the first non-empty batch.
func (bp *BatchProcessor) Process(ctx context.Context, points []storage.Point) error {
	if len(points) == 0 {
		return nil
	}

	texts := make([]string, len(points))
	for i, p := range points {
		texts[i] = p.Payload.Content
	}

	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(points) {
		return fmt.Errorf("%w: expected %d, got %d", ai.ErrEmbeddingCount, len(points), len(embeddings))
	}

	updated := make([]storage.Point, len(points))
	for i, p := range points {
		updated[i] = storage.Point{
			ID:      p.ID,
			Vector:  NormalizeVector(embeddings[i]),
			Payload: p.Payload,
		}
	}

	if !bp.ensured {
		if err := bp.vectors.EnsureCollection(ctx, bp.target, len(updated[0].Vector)); err != nil {
			return fmt.Errorf("failed to prepare collection %s: %w", bp.target, err)
		}
		bp.ensured = true
	}

	err = RetryWithBackoff(ctx, func(ctx context.Context) error {
		return bp.vectors.Upsert(ctx, bp.target, updated)
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to update points: %w", err)
	}

	return nil
}
