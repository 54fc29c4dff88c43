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

	"github.com/poiesic/grundgraph/storage"
)

const (
	// DefaultBatchSize is the default number of points to process in each batch
	DefaultBatchSize = 100
)

// PointIterator iterates over all points of a collection in batches.
type PointIterator struct {
	vectors    storage.VectorStore
	collection string
	batchSize  int
}

// NewPointIterator creates a new point iterator.
// batchSize: number of points per batch; DefaultBatchSize when <= 0
func NewPointIterator(vectors storage.VectorStore, collection string, batchSize int) *PointIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &PointIterator{
		vectors:    vectors,
		collection: collection,
		batchSize:  batchSize,
	}
}

// ForEach calls fn for each batch of points.
// Iteration stops on first error from fn or when all points are processed.
// Context cancellation is checked between batches.
func (it *PointIterator) ForEach(ctx context.Context, fn func([]storage.Point) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return it.vectors.ForEachPoint(ctx, it.collection, it.batchSize, func(batch []storage.Point) error {
		if err := fn(batch); err != nil {
			return err
		}
		return ctx.Err()
	})
}
