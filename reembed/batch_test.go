package reembed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
	"github.com/poiesic/grundgraph/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder for testing
type mockEmbedder struct {
	dim            int
	calls          atomic.Int32
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	// Default: unnormalized vectors with magnitude 3 in the first three components
	result := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, m.dimension())
		v[0], v[1], v[2] = 1, 2, 2
		result[i] = v
	}
	return result, nil
}

func (m *mockEmbedder) Dimension() int {
	return m.dimension()
}

func (m *mockEmbedder) dimension() int {
	if m.dim == 0 {
		return 3
	}
	return m.dim
}

func setupTestStore(t *testing.T) *badger.VectorStore {
	t.Helper()
	_, vectors, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return vectors
}

// seedPoints stores n points with an old two-dimensional vector.
func seedPoints(t *testing.T, vectors storage.VectorStore, collection string, n int) []storage.Point {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, vectors.EnsureCollection(ctx, collection, 2))
	points := make([]storage.Point, n)
	for i := range points {
		entityID := fmt.Sprintf("requirement:ORP.1.A%d", i+1)
		points[i] = storage.Point{
			ID:     core.ChunkID(entityID, 0),
			Vector: []float32{1, 0},
			Payload: storage.Payload{
				Content:    fmt.Sprintf("Anforderung %d", i+1),
				DocumentID: "doc",
				EntityID:   entityID,
				EntityType: core.EntityTypeRequirement,
				Metadata:   core.Metadata{core.MetaTier: "B"},
			},
		}
	}
	require.NoError(t, vectors.Upsert(ctx, collection, points))
	return points
}

func TestBatchProcessor_Process(t *testing.T) {
	vectors := setupTestStore(t)
	points := seedPoints(t, vectors, "old", 2)
	ctx := context.Background()

	processor := NewBatchProcessor(vectors, &mockEmbedder{}, "new", 3, 10*time.Millisecond)
	require.NoError(t, processor.Process(ctx, points))

	stored, err := vectors.ChunksForEntities(ctx, "new", []string{"requirement:ORP.1.A1", "requirement:ORP.1.A2"}, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i, p := range stored {
		require.Len(t, p.Vector, 3)
		assert.InDelta(t, 1.0, Magnitude(p.Vector), 0.001, "vector should be normalized")
		assert.Equal(t, points[i].ID, p.ID)
		assert.Equal(t, points[i].Payload.Content, p.Payload.Content)
		assert.Equal(t, "B", p.Payload.Metadata.String(core.MetaTier))
	}
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	vectors := setupTestStore(t)
	embedder := &mockEmbedder{}
	processor := NewBatchProcessor(vectors, embedder, "new", 3, 10*time.Millisecond)

	require.NoError(t, processor.Process(context.Background(), nil))
	assert.Zero(t, embedder.calls.Load(), "should not call embedder for empty batch")
}

func TestBatchProcessor_RetriesEmbedding(t *testing.T) {
	vectors := setupTestStore(t)
	points := seedPoints(t, vectors, "old", 1)

	embedder := &mockEmbedder{}
	embedder.embedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if embedder.calls.Load() < 3 {
			return nil, errors.New("temporary failure")
		}
		return [][]float32{{0, 3, 4}}, nil
	}
	processor := NewBatchProcessor(vectors, embedder, "new", 3, time.Millisecond)

	require.NoError(t, processor.Process(context.Background(), points))
	assert.Equal(t, int32(3), embedder.calls.Load())
}

func TestBatchProcessor_EmbeddingFailure(t *testing.T) {
	vectors := setupTestStore(t)
	points := seedPoints(t, vectors, "old", 1)

	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("service unavailable")
	}}
	processor := NewBatchProcessor(vectors, embedder, "new", 2, time.Millisecond)

	err := processor.Process(context.Background(), points)
	require.ErrorContains(t, err, "service unavailable")
	assert.Equal(t, int32(2), embedder.calls.Load())
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	vectors := setupTestStore(t)
	points := seedPoints(t, vectors, "old", 2)

	embedder := &mockEmbedder{embedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}}
	processor := NewBatchProcessor(vectors, embedder, "new", 3, time.Millisecond)

	err := processor.Process(context.Background(), points)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2, got 1")
}

func TestBatchProcessor_DimensionChangeInPlace(t *testing.T) {
	vectors := setupTestStore(t)
	points := seedPoints(t, vectors, "old", 1)

	processor := NewBatchProcessor(vectors, &mockEmbedder{}, "old", 3, time.Millisecond)
	err := processor.Process(context.Background(), points)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}
