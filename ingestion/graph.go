package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// graphProcessor merges extracted entities and relationships into the graph store.
type graphProcessor struct {
	graph  storage.GraphStore
	logger *slog.Logger
}

var _ processor = (*graphProcessor)(nil)

// newGraphProcessor creates a new graph processor.
func newGraphProcessor(graph storage.GraphStore, logger *slog.Logger) (*graphProcessor, error) {
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &graphProcessor{
		graph:  graph,
		logger: logger.With("processor", "graph"),
	}, nil
}

// process creates all nodes, then all relationships. Both merge, so a resumed
// run repeats this stage safely.
func (gp *graphProcessor) process(ctx context.Context, r *run, result *core.ExtractionResult) error {
	if !r.job.Options.CreateGraph {
		gp.logger.Info("graph creation disabled", "job_id", r.id())
		return nil
	}

	nodes := result.Entities
	gp.logger.Info("creating graph", "job_id", r.id(), "nodes", len(nodes), "relationships", len(result.Relationships))

	for start := 0; start < len(nodes); start += nodeReportEvery {
		if err := r.checkCancelled(); err != nil {
			return err
		}
		batch := nodes[start:min(start+nodeReportEvery, len(nodes))]
		if err := r.call(ctx, "creating nodes", func(ctx context.Context) error {
			return gp.graph.CreateNodes(ctx, batch, result.DocumentID)
		}); err != nil {
			return err
		}
		created := start + len(batch)
		progress := progressStored + (progressNodes-progressStored)*float64(created)/float64(len(nodes))
		msg := fmt.Sprintf("created %d of %d nodes", created, len(nodes))
		if err := r.report(ctx, core.StageCreatingGraph, progress, msg, created, len(nodes), storage.JobUpdate{}); err != nil {
			return err
		}
	}

	rels := result.Relationships
	for i, rel := range rels {
		if err := r.checkCancelled(); err != nil {
			return err
		}
		if err := r.call(ctx, "creating relationship", func(ctx context.Context) error {
			return gp.graph.CreateRelationship(ctx, rel)
		}); err != nil {
			return err
		}
		created := i + 1
		if created%edgeReportEvery != 0 && created != len(rels) {
			continue
		}
		progress := progressNodes + (progressDone-progressNodes)*float64(created)/float64(len(rels))
		msg := fmt.Sprintf("created %d of %d relationships", created, len(rels))
		if err := r.report(ctx, core.StageCreatingGraph, progress, msg, created, len(rels), storage.JobUpdate{}); err != nil {
			return err
		}
	}
	return nil
}
