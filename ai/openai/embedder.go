package openai

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/grundgraph/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	limiter  *rate.Limiter
	timeout  time.Duration
	want     int
	seen     atomic.Int64
	logger   *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return wrapEmbedder(embedder, config), nil
}

// wrapEmbedder applies throttling, timeouts and dimension checks to a langchaingo embedder.
func wrapEmbedder(embedder embeddings.Embedder, config *ai.Config) *Embedder {
	e := &Embedder{
		embedder: embedder,
		timeout:  config.Timeout,
		want:     config.EmbeddingDimension,
		logger:   slog.Default().With("component", "openai-embedder"),
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return e
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ai.ErrEmbeddingCount, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := e.checkDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// checkDimension enforces the configured dimension, or the first one observed
// when none was configured.
func (e *Embedder) checkDimension(n int) error {
	want := e.want
	if want == 0 {
		e.seen.CompareAndSwap(0, int64(n))
		want = int(e.seen.Load())
	}
	if n != want {
		return fmt.Errorf("%w: got %d, want %d", ai.ErrDimensionMismatch, n, want)
	}
	return nil
}

// Dimension returns the configured dimension, or the observed one.
func (e *Embedder) Dimension() int {
	if e.want > 0 {
		return e.want
	}
	return int(e.seen.Load())
}
