package storage

import (
	"context"
	"time"

	"github.com/poiesic/grundgraph/core"
)

// JobUpdate is a partial update of a job record. Nil fields are left unchanged.
type JobUpdate struct {
	Status          *core.JobStatus
	Progress        *float64
	TotalChunks     *int
	CompletedChunks *int
	DocumentID      *string
	Error           *string
}

// JobRepository is the durable store of job lifecycle state and per-chunk completion.
// Implementations must serialize concurrent writes to the same job.
type JobRepository interface {
	// CreateJob allocates a new job in the pending state with zero progress.
	CreateJob(ctx context.Context, jobType core.JobType, filename, filePath string, opts core.ProcessingOptions) (*core.JobRecord, error)

	// GetJob returns the job with the given ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.JobRecord, error)

	// ListJobs returns all jobs, newest first.
	ListJobs(ctx context.Context) ([]*core.JobRecord, error)

	// ResumableJobs returns jobs flagged resumable, newest first.
	ResumableJobs(ctx context.Context) ([]*core.JobRecord, error)

	// UpdateJobProgress applies a partial update.
	// StartedAt is set on the first transition into running and CompletedAt on
	// every transition into a terminal state. Returns ErrInvalidTransition when
	// the job is completed or cancelled, or the status change is not allowed.
	UpdateJobProgress(ctx context.Context, id string, update JobUpdate) (*core.JobRecord, error)

	// MarkChunkCompleted records one completed chunk. See MarkChunksCompleted.
	MarkChunkCompleted(ctx context.Context, id, chunkID string) error

	// MarkChunksCompleted idempotently records completed chunk IDs and keeps the
	// job's CompletedChunks counter in step with the stored set.
	MarkChunksCompleted(ctx context.Context, id string, chunkIDs ...string) error

	// CompletedChunks returns the set of chunk IDs already marked complete.
	CompletedChunks(ctx context.Context, id string) (map[string]struct{}, error)

	// DeleteJob removes a job and its chunk completion records.
	// Returns false if the job didn't exist.
	DeleteJob(ctx context.Context, id string) (bool, error)

	// CleanupOldJobs deletes terminal jobs that finished before now minus retention.
	CleanupOldJobs(ctx context.Context, retention time.Duration) (int, error)

	// MarkInterruptedResumable relabels every running job as resumable.
	// Must run once at startup before new jobs are accepted.
	MarkInterruptedResumable(ctx context.Context) (int, error)

	// Close releases resources held by the repository.
	Close() error
}

// Payload is the metadata stored alongside a chunk vector.
type Payload struct {
	Content         string
	DocumentID      string
	Filename        string
	EntityID        string
	EntityType      core.EntityType
	ChunkIndex      int
	TotalChunks     int
	BookmarkID      string
	GlossaryTermIDs []string
	Metadata        core.Metadata
}

// Point is one vector with its payload. The ID is the chunk ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter narrows a vector search. Zero fields don't filter.
type Filter struct {
	DocumentID string
	EntityType core.EntityType
	EntityIDs  []string
}

// VectorStore stores chunk vectors and answers similarity queries.
type VectorStore interface {
	// EnsureCollection creates the collection with the given dimension if absent.
	// Returns ErrDimensionMismatch if it exists with another dimension.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to topK points ordered by cosine similarity, highest first.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]ScoredPoint, error)

	// ChunksForEntities returns up to limit points per entity, in chunk order.
	ChunksForEntities(ctx context.Context, collection string, entityIDs []string, limit int) ([]Point, error)

	// DeleteByDocument removes every point of a document and returns how many were removed.
	DeleteByDocument(ctx context.Context, collection, documentID string) (int, error)

	// Count returns the number of points in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// ForEachPoint visits every point of a collection in batches.
	ForEachPoint(ctx context.Context, collection string, batchSize int, fn func([]Point) error) error

	// Close releases resources held by the store.
	Close() error
}

// Direction selects which edges Explore follows.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Node is an entity as stored in the graph.
type Node struct {
	ID         string
	Type       core.EntityType
	Title      string
	Content    string
	BookmarkID string
	ParentID   string
	DocumentID string
	Metadata   core.Metadata
}

// Edge is a relationship as stored in the graph.
type Edge struct {
	SourceID string
	TargetID string
	Type     core.RelationshipType
	Metadata core.Metadata
}

// Subgraph is the result of an exploration.
type Subgraph struct {
	Center       *Node
	Nodes        []Node
	Edges        []Edge
	DepthReached int
}

// GraphStats counts nodes and edges by type.
type GraphStats struct {
	TotalNodes          int
	TotalEdges          int
	NodesByType         map[core.EntityType]int
	RelationshipsByType map[core.RelationshipType]int
	Documents           int
}

// GraphStore stores entities and relationships with merge semantics.
type GraphStore interface {
	// CreateNode merges an entity by ID.
	CreateNode(ctx context.Context, entity core.Entity, documentID string) error

	// CreateNodes merges a batch of entities in one transaction.
	CreateNodes(ctx context.Context, entities []core.Entity, documentID string) error

	// CreateRelationship merges an edge by (source, target, type).
	// Endpoints need not exist.
	CreateRelationship(ctx context.Context, rel core.Relationship) error

	// GetNode returns a node by ID or ErrNotFound.
	GetNode(ctx context.Context, id string) (*Node, error)

	// Explore walks up to depth hops from startID following edges of the given
	// types (all types when empty). Depth is capped at the store's maximum.
	Explore(ctx context.Context, startID string, depth int, direction Direction, relTypes []core.RelationshipType) (*Subgraph, error)

	// SearchNodes finds nodes whose title or content contains query.
	SearchNodes(ctx context.Context, query string, types []core.EntityType, limit int) ([]Node, error)

	// DeleteNodesForDocument removes a document's nodes and their incident edges.
	DeleteNodesForDocument(ctx context.Context, documentID string) (int, error)

	// Stats counts nodes and edges.
	Stats(ctx context.Context) (*GraphStats, error)

	// Close releases resources held by the store.
	Close() error
}
