package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// setupTestStore creates a graph store in a temporary directory.
func setupTestStore(t *testing.T, opts ...Option) *GraphStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "graph.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

// seedChain builds layer <- block <- requirement <- role and a standard.
func seedChain(t *testing.T, store *GraphStore) {
	t.Helper()
	ctx := context.Background()
	entities := []core.Entity{
		{ID: "layer:ORP", Type: core.EntityTypeLayer, Title: "Organisation und Personal"},
		{ID: "building_block:ORP.1", Type: core.EntityTypeBuildingBlock, Title: "ORP.1 Organisation"},
		{ID: "requirement:ORP.1.A1", Type: core.EntityTypeRequirement, Title: "ORP.1.A1 Festlegung von Verantwortlichkeiten (B)",
			Metadata: core.Metadata{core.MetaTier: "B", core.MetaRoles: []string{"Institutionsleitung"}}},
		{ID: "role:1", Type: core.EntityTypeRole, Title: "Institutionsleitung"},
	}
	require.NoError(t, store.CreateNodes(ctx, entities, "doc1"))
	for _, rel := range []core.Relationship{
		{SourceID: "building_block:ORP.1", TargetID: "layer:ORP", Type: core.RelBelongsTo},
		{SourceID: "requirement:ORP.1.A1", TargetID: "building_block:ORP.1", Type: core.RelBelongsTo},
		{SourceID: "role:1", TargetID: "requirement:ORP.1.A1", Type: core.RelResponsibleFor},
		{SourceID: "requirement:ORP.1.A1", TargetID: "standard:ISO27001", Type: core.RelGroundedIn},
	} {
		require.NoError(t, store.CreateRelationship(ctx, rel))
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestWithDepthLimits(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "g.db"), WithDepthLimits(3, 1))
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestCreateNode_MergesByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := core.Entity{ID: "building_block:APP.1", Type: core.EntityTypeBuildingBlock, Title: "old"}
	require.NoError(t, store.CreateNode(ctx, e, "doc"))
	e.Title = "new"
	e.Metadata = core.Metadata{core.MetaLayer: "APP", "count": 3}
	require.NoError(t, store.CreateNode(ctx, e, "doc"))

	n, err := store.GetNode(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", n.Title)
	assert.Equal(t, "doc", n.DocumentID)
	assert.Equal(t, core.Metadata{core.MetaLayer: "APP", "count": 3}, n.Metadata)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalNodes)

	_, err = store.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateNode_Validation(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreateNode(context.Background(), core.Entity{ID: "x"}, "doc")
	assert.ErrorIs(t, err, core.ErrInvalidEntity)
}

func TestCreateNode_TruncatesContent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("ä", maxContentRunes+100)
	require.NoError(t, store.CreateNode(ctx, core.Entity{ID: "glossary_term:1", Type: core.EntityTypeGlossaryTerm, Content: long}, "doc"))

	n, err := store.GetNode(ctx, "glossary_term:1")
	require.NoError(t, err)
	assert.Equal(t, maxContentRunes, len([]rune(n.Content)))
}

func TestCreateRelationship_MergesAndAllowsDangling(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rel := core.Relationship{SourceID: "a", TargetID: "b", Type: core.RelUsesTerm, Metadata: core.Metadata{core.MetaChunkID: "a:chunk:0"}}
	require.NoError(t, store.CreateRelationship(ctx, rel))
	rel.Metadata = core.Metadata{core.MetaChunkID: "a:chunk:1"}
	require.NoError(t, store.CreateRelationship(ctx, rel))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEdges)
	assert.Equal(t, 0, stats.TotalNodes)

	err = store.CreateRelationship(ctx, core.Relationship{SourceID: "a", Type: core.RelUsesTerm})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestExplore(t *testing.T) {
	store := setupTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	t.Run("both directions default depth", func(t *testing.T) {
		sub, err := store.Explore(ctx, "requirement:ORP.1.A1", 0, storage.DirectionBoth, nil)
		require.NoError(t, err)
		assert.Equal(t, "requirement:ORP.1.A1", sub.Center.ID)
		assert.Equal(t, 2, sub.DepthReached)

		var ids []string
		for _, n := range sub.Nodes {
			ids = append(ids, n.ID)
		}
		// the standard is a dangling target and has no node
		assert.Equal(t, []string{"building_block:ORP.1", "layer:ORP", "role:1"}, ids)
		assert.Len(t, sub.Edges, 4)
	})

	t.Run("outgoing only", func(t *testing.T) {
		sub, err := store.Explore(ctx, "requirement:ORP.1.A1", 1, storage.DirectionOut, nil)
		require.NoError(t, err)
		for _, e := range sub.Edges {
			assert.Equal(t, "requirement:ORP.1.A1", e.SourceID)
		}
		assert.Len(t, sub.Edges, 2)
	})

	t.Run("incoming only", func(t *testing.T) {
		sub, err := store.Explore(ctx, "layer:ORP", 5, storage.DirectionIn, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, sub.DepthReached)
		assert.Len(t, sub.Nodes, 3)
	})

	t.Run("type filter", func(t *testing.T) {
		sub, err := store.Explore(ctx, "requirement:ORP.1.A1", 2, storage.DirectionBoth, []core.RelationshipType{core.RelResponsibleFor})
		require.NoError(t, err)
		require.Len(t, sub.Edges, 1)
		assert.Equal(t, core.RelResponsibleFor, sub.Edges[0].Type)
	})

	t.Run("depth is capped", func(t *testing.T) {
		capped := setupTestStore(t, WithDepthLimits(1, 1))
		seedChain(t, capped)
		sub, err := capped.Explore(ctx, "layer:ORP", 10, storage.DirectionIn, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, sub.DepthReached)
		assert.Len(t, sub.Nodes, 1)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := store.Explore(ctx, "missing", 1, storage.DirectionBoth, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.Explore(ctx, "layer:ORP", 1, "sideways", nil)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}

func TestSearchNodes(t *testing.T) {
	store := setupTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	nodes, err := store.SearchNodes(ctx, "orp.1", nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	for _, n := range nodes {
		assert.Contains(t, strings.ToLower(n.ID+n.Title+n.Content), "orp.1")
	}

	nodes, err = store.SearchNodes(ctx, "Institutionsleitung", []core.EntityType{core.EntityTypeRole}, 10)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "role:1", nodes[0].ID)

	nodes, err = store.SearchNodes(ctx, "100%", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = store.SearchNodes(ctx, "  ", nil, 10)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestSearchNodes_PreservesListMetadata(t *testing.T) {
	store := setupTestStore(t)
	seedChain(t, store)

	n, err := store.GetNode(context.Background(), "requirement:ORP.1.A1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Institutionsleitung"}, n.Metadata.Strings(core.MetaRoles))
	assert.Equal(t, "B", n.Metadata.String(core.MetaTier))
}

func TestDeleteNodesForDocument(t *testing.T) {
	store := setupTestStore(t)
	seedChain(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreateNode(ctx, core.Entity{ID: "layer:APP", Type: core.EntityTypeLayer}, "doc2"))

	n, err := store.DeleteNodesForDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalNodes)
	assert.Equal(t, 0, stats.TotalEdges)
	assert.Equal(t, 1, stats.Documents)
}

func TestStats(t *testing.T) {
	store := setupTestStore(t)
	seedChain(t, store)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalNodes)
	assert.Equal(t, 4, stats.TotalEdges)
	assert.Equal(t, 2, stats.RelationshipsByType[core.RelBelongsTo])
	assert.Equal(t, 1, stats.NodesByType[core.EntityTypeRole])
	assert.Equal(t, 1, stats.Documents)
}
