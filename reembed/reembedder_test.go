package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/grundgraph/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(source, target string) *Config {
	return &Config{
		Collection:       source,
		TargetCollection: target,
		BatchSize:        3,
		ReportInterval:   3,
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
	}
}

func TestNewReembedder(t *testing.T) {
	vectors := setupTestStore(t)

	_, err := NewReembedder(nil, &mockEmbedder{}, nil, nil)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewReembedder(vectors, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	r, err := NewReembedder(vectors, &mockEmbedder{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Collection, r.config.Collection)
	assert.Equal(t, DefaultBatchSize, r.batches.batchSize)
}

func TestReembedder_Run(t *testing.T) {
	vectors := setupTestStore(t)
	seedPoints(t, vectors, "old", 10)
	ctx := context.Background()

	var buf bytes.Buffer
	embedder := &mockEmbedder{}
	r, err := NewReembedder(vectors, embedder, testConfig("old", "new"), &buf)
	require.NoError(t, err)

	processed, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, processed)
	assert.Equal(t, int32(4), embedder.calls.Load(), "10 points in batches of 3")

	count, err := vectors.Count(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	err = vectors.ForEachPoint(ctx, "new", 0, func(points []storage.Point) error {
		for _, p := range points {
			assert.Len(t, p.Vector, 3)
			assert.InDelta(t, 1.0, Magnitude(p.Vector), 0.001)
		}
		return nil
	})
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Starting reembedding of 10 points from old into new")
	assert.Contains(t, output, "10/10")
	assert.Contains(t, output, "Reembedding complete")
}

func TestReembedder_InPlace(t *testing.T) {
	vectors := setupTestStore(t)
	seedPoints(t, vectors, "chunks", 5)
	ctx := context.Background()

	embedder := &mockEmbedder{embedTextsFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{0, 2}
		}
		return out, nil
	}}
	r, err := NewReembedder(vectors, embedder, testConfig("chunks", ""), nil)
	require.NoError(t, err)

	processed, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, processed)

	results, err := vectors.Search(ctx, "chunks", []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, hit := range results {
		assert.InDelta(t, 1.0, hit.Score, 1e-5, "every vector was replaced")
	}
}

func TestReembedder_EmptyCollection(t *testing.T) {
	vectors := setupTestStore(t)

	var buf bytes.Buffer
	r, err := NewReembedder(vectors, &mockEmbedder{}, testConfig("missing", "new"), &buf)
	require.NoError(t, err)

	processed, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Contains(t, buf.String(), "No points found")
}

func TestReembedder_DimensionChangeNeedsNewCollection(t *testing.T) {
	vectors := setupTestStore(t)
	seedPoints(t, vectors, "chunks", 4)

	r, err := NewReembedder(vectors, &mockEmbedder{}, testConfig("chunks", ""), nil)
	require.NoError(t, err)

	processed, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
	assert.Zero(t, processed)
}

func TestReembedder_StopsOnBatchFailure(t *testing.T) {
	vectors := setupTestStore(t)
	seedPoints(t, vectors, "old", 9)

	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if embedder.calls.Load() > 1 {
			return nil, errors.New("quota exceeded")
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	cfg := testConfig("old", "new")
	cfg.MaxRetries = 1
	r, err := NewReembedder(vectors, embedder, cfg, nil)
	require.NoError(t, err)

	processed, err := r.Run(context.Background())
	require.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, 3, processed)
}

func TestReembedder_ContextCancelled(t *testing.T) {
	vectors := setupTestStore(t)
	seedPoints(t, vectors, "old", 9)

	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		cancel()
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	r, err := NewReembedder(vectors, embedder, testConfig("old", "new"), nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), embedder.calls.Load())
}
