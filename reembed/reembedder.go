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

package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// Config controls a reembedding run.
type Config struct {
	// Collection is read from.
	Collection string
	// TargetCollection receives the new vectors and defaults to Collection.
	// It must differ from Collection when the embedding dimension changes.
	TargetCollection string

	BatchSize      int
	ReportInterval int

	// MaxRetries bounds the attempts per embedding or upsert call. Delays
	// start at RetryDelay and double on every retry.
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig reembeds the default collection in place.
func DefaultConfig() *Config {
	return &Config{
		Collection:     core.DefaultCollection,
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

func (c *Config) target() string {
	if c.TargetCollection == "" {
		return c.Collection
	}
	return c.TargetCollection
}

// Reembedder recomputes the vector of every point in a collection from its
// stored chunk text.
type Reembedder struct {
	vectors  storage.VectorStore
	config   *Config
	out      io.Writer
	batches  *PointIterator
	embedder *BatchProcessor
}

// NewReembedder creates a reembedder that reports to out, typically os.Stderr.
// A nil config selects DefaultConfig.
func NewReembedder(vectors storage.VectorStore, embedder ai.Embedder, config *Config, out io.Writer) (*Reembedder, error) {
	switch {
	case vectors == nil:
		return nil, ErrVectorStoreRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	} else if config.Collection == "" {
		config.Collection = core.DefaultCollection
	}
	if out == nil {
		out = io.Discard
	}

	return &Reembedder{
		vectors:  vectors,
		config:   config,
		out:      out,
		batches:  NewPointIterator(vectors, config.Collection, config.BatchSize),
		embedder: NewBatchProcessor(vectors, embedder, config.target(), config.MaxRetries, config.RetryDelay),
	}, nil
}

// Run reembeds the source collection batch by batch. It returns the number of
// points written, which is partial when a batch fails.
func (r *Reembedder) Run(ctx context.Context) (int, error) {
	source := r.config.Collection
	total, err := r.vectors.Count(ctx, source)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		total = 0
	case err != nil:
		return 0, fmt.Errorf("counting points of %s: %w", source, err)
	}
	if total == 0 {
		fmt.Fprintf(r.out, "No points found in collection %s (0 points)\n", source)
		return 0, nil
	}

	fmt.Fprintf(r.out, "Starting reembedding of %d points from %s into %s (batch size: %d)\n",
		total, source, r.config.target(), r.batches.batchSize)
	tracker := NewProgressTracker(r.out, total, r.config.ReportInterval).WithUnit("points")
	tracker.Start()

	done := 0
	err = r.batches.ForEach(ctx, func(points []storage.Point) error {
		if err := r.embedder.Process(ctx, points); err != nil {
			return fmt.Errorf("batch after %d points: %w", done, err)
		}
		done += len(points)
		tracker.Update(done)
		return nil
	})
	if err != nil {
		return done, err
	}
	tracker.Finish()

	took := tracker.Elapsed()
	fmt.Fprintf(r.out, "Reembedding complete. Processed %d points in %v (%.1f points/sec)\n",
		done, took.Round(time.Second), float64(done)/max(took.Seconds(), 1e-9))
	return done, nil
}
