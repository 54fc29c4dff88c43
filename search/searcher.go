package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// Strategy selects how the graph participates in a search.
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategyPreFilter  Strategy = "pre_filter"
	StrategyPostEnrich Strategy = "post_enrich"
	StrategyMerge      Strategy = "merge"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyNone, StrategyPreFilter, StrategyPostEnrich, StrategyMerge}

// ParseStrategy returns the strategy named s. An empty name selects StrategyNone.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyNone, nil
	}
	st := Strategy(s)
	if !slices.Contains(Strategies, st) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

const (
	defaultTopK = 10

	// verbatimBoost is added when a chunk contains every query term.
	verbatimBoost = 0.3
	// neighbourDiscount scales the score of chunks reached through the graph.
	neighbourDiscount = 0.8
	// seedsPerTerm bounds how many graph nodes each query term contributes.
	seedsPerTerm = 5
)

// Options narrow a search.
type Options struct {
	TopK       int
	DocumentID string
	EntityType core.EntityType
	Strategy   Strategy
	// Depth of graph exploration; the graph store default when zero.
	Depth int
	// Collection overrides the searcher's collection.
	Collection string
}

// Source tells how a result was found.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// Result is one ranked chunk.
type Result struct {
	ChunkID  string
	Score    float32
	Source   Source
	Verbatim bool
	Payload  storage.Payload
	// Context is the subgraph around the chunk's entity (merge strategy only).
	Context *storage.Subgraph
	// Via is the entity whose neighbourhood produced a graph result.
	Via string
}

// Searcher answers queries against the vector and graph stores.
type Searcher struct {
	vectors    storage.VectorStore
	graph      storage.GraphStore
	embedder   ai.Embedder
	collection string
	logger     *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithCollection sets the default vector collection.
func WithCollection(name string) Option {
	return func(s *Searcher) error {
		if name == "" {
			return errors.New("collection name must not be empty")
		}
		s.collection = name
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	vectors storage.VectorStore,
	graph storage.GraphStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		vectors:    vectors,
		graph:      graph,
		embedder:   embedder,
		collection: core.DefaultCollection,
		logger:     slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Search ranks chunks for query.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	return s.SearchWithMonitor(ctx, query, opts, nil)
}

// SearchWithMonitor ranks chunks for query and reports each step to monitor.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, opts Options, monitor SearchMonitor) ([]*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyNone
	}
	if !slices.Contains(Strategies, opts.Strategy) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Collection == "" {
		opts.Collection = s.collection
	}
	monitor.Start(query, opts.Strategy)

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	filter := &storage.Filter{DocumentID: opts.DocumentID, EntityType: opts.EntityType}
	if opts.Strategy == StrategyPreFilter {
		ids, err := s.neighbourhood(ctx, query, opts, monitor)
		if err != nil {
			return nil, err
		}
		filter.EntityIDs = ids
	}

	hits, err := s.vectors.Search(ctx, opts.Collection, vector, opts.TopK, filter)
	if errors.Is(err, storage.ErrNotFound) {
		// nothing ingested into this collection yet
		monitor.Finish(nil)
		return []*Result{}, nil
	}
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	if len(hits) == 0 && len(filter.EntityIDs) > 0 {
		monitor.FellBack("no chunks in graph neighbourhood")
		filter.EntityIDs = nil
		if hits, err = s.vectors.Search(ctx, opts.Collection, vector, opts.TopK, filter); err != nil {
			return nil, err
		}
	}
	monitor.AfterVectorSearch(hits)

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, &Result{
			ChunkID: h.ID,
			Score:   h.Score,
			Source:  SourceVector,
			Payload: h.Payload,
		})
	}
	s.boost(query, results, monitor)
	rank(results)

	switch opts.Strategy {
	case StrategyPostEnrich:
		enriched, err := s.enrich(ctx, query, results, opts, monitor)
		if err != nil {
			return nil, err
		}
		results = append(results, enriched...)
	case StrategyMerge:
		if err := s.attachContext(ctx, results, opts); err != nil {
			return nil, err
		}
	}

	monitor.Finish(results)
	return results, nil
}

// neighbourhood collects the entity IDs around graph nodes matching any query
// term. A nil result means the graph knows nothing about the query.
func (s *Searcher) neighbourhood(ctx context.Context, query string, opts Options, monitor SearchMonitor) ([]string, error) {
	seen := make(map[string]struct{})
	var seeds []string
	for _, term := range tokenizeAndFilter(query) {
		nodes, err := s.graph.SearchNodes(ctx, term, nil, seedsPerTerm)
		if err != nil {
			return nil, fmt.Errorf("searching graph for %q: %w", term, err)
		}
		for _, n := range nodes {
			if _, ok := seen[n.ID]; !ok {
				seen[n.ID] = struct{}{}
				seeds = append(seeds, n.ID)
			}
		}
	}
	monitor.AfterGraphSeeds(seeds)
	if len(seeds) == 0 {
		return nil, nil
	}

	for _, id := range seeds {
		sub, err := s.explore(ctx, id, opts.Depth)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		for _, n := range sub.Nodes {
			seen[n.ID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	monitor.AfterGraphExpansion(ids)
	return ids, nil
}

// enrich returns up to TopK chunks of graph neighbours of the hit entities,
// scored as a discounted share of the similarity of the hit that led to them.
// Neighbours earn their own verbatim boost; the hit's boost is not inherited.
func (s *Searcher) enrich(ctx context.Context, query string, hits []*Result, opts Options, monitor SearchMonitor) ([]*Result, error) {
	seenChunks := make(map[string]struct{}, len(hits))
	hitEntities := make(map[string]struct{}, len(hits))
	for _, r := range hits {
		seenChunks[r.ChunkID] = struct{}{}
		hitEntities[r.Payload.EntityID] = struct{}{}
	}

	var out []*Result
	explored := make(map[string]struct{})
	for _, hit := range hits {
		entityID := hit.Payload.EntityID
		if _, ok := explored[entityID]; ok {
			continue
		}
		explored[entityID] = struct{}{}

		sub, err := s.explore(ctx, entityID, opts.Depth)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		var neighbours []string
		for _, n := range sub.Nodes {
			if _, ok := hitEntities[n.ID]; !ok {
				neighbours = append(neighbours, n.ID)
			}
		}
		if len(neighbours) == 0 {
			continue
		}
		similarity := hit.Score
		if hit.Verbatim {
			similarity -= verbatimBoost
		}
		points, err := s.vectors.ChunksForEntities(ctx, opts.Collection, neighbours, 1)
		if err != nil {
			return nil, fmt.Errorf("loading neighbour chunks of %s: %w", entityID, err)
		}
		for _, p := range points {
			if _, ok := seenChunks[p.ID]; ok {
				continue
			}
			if opts.DocumentID != "" && p.Payload.DocumentID != opts.DocumentID {
				continue
			}
			seenChunks[p.ID] = struct{}{}
			r := &Result{
				ChunkID: p.ID,
				Score:   similarity * neighbourDiscount,
				Source:  SourceGraph,
				Payload: p.Payload,
				Via:     entityID,
			}
			monitor.EnrichedHit(r)
			out = append(out, r)
		}
	}
	s.boost(query, out, monitor)
	rank(out)
	if len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

// attachContext sets the subgraph of each result's entity. Results of the
// same entity share one subgraph.
func (s *Searcher) attachContext(ctx context.Context, results []*Result, opts Options) error {
	cache := make(map[string]*storage.Subgraph)
	for _, r := range results {
		entityID := r.Payload.EntityID
		sub, ok := cache[entityID]
		if !ok {
			var err error
			if sub, err = s.explore(ctx, entityID, opts.Depth); err != nil {
				return err
			}
			cache[entityID] = sub
		}
		r.Context = sub
	}
	return nil
}

// explore returns nil for entities that never made it into the graph.
func (s *Searcher) explore(ctx context.Context, entityID string, depth int) (*storage.Subgraph, error) {
	sub, err := s.graph.Explore(ctx, entityID, depth, storage.DirectionBoth, nil)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug("entity not in graph", "entity_id", entityID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exploring %s: %w", entityID, err)
	}
	return sub, nil
}

func (s *Searcher) boost(query string, results []*Result, monitor SearchMonitor) {
	for _, r := range results {
		if containsAllQueryWords(r.Payload.Content, query) {
			r.Score += verbatimBoost
			r.Verbatim = true
			monitor.VerbatimHit(r)
		}
	}
}

// rank sorts by score descending, then by chunk ID.
func rank(results []*Result) {
	slices.SortStableFunc(results, func(a, b *Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
}
