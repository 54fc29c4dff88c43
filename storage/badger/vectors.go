package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/grundgraph/storage"
)

// upsertBatch bounds the number of points written per transaction.
const upsertBatch = 256

// VectorStore implements storage.VectorStore for BadgerDB.
// Search is an exhaustive scan of the collection.
type VectorStore struct {
	backend *Backend
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a new VectorStore.
func NewVectorStore(backend *Backend) *VectorStore {
	return &VectorStore{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (s *VectorStore) Close() error {
	return nil
}

// EnsureCollection creates a collection or verifies its dimension.
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if collection == "" || dimension <= 0 {
		return fmt.Errorf("%w: collection %q dimension %d", storage.ErrInvalidQuery, collection, dimension)
	}
	return s.backend.Update(func(tx *badger.Txn) error {
		existing, err := collectionDimension(tx, collection)
		switch {
		case err == nil:
			if existing != dimension {
				return fmt.Errorf("%w: collection %s has %d, requested %d", storage.ErrDimensionMismatch, collection, existing, dimension)
			}
			return nil
		case errors.Is(err, storage.ErrNotFound):
			return tx.Set(makeCollectionKey(collection), storage.MarshalInt(dimension))
		default:
			return err
		}
	})
}

// Upsert writes points, replacing earlier versions with the same ID.
func (s *VectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	for start := 0; start < len(points); start += upsertBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+upsertBatch, len(points))
		batch := points[start:end]
		err := s.backend.Update(func(tx *badger.Txn) error {
			dim, err := collectionDimension(tx, collection)
			if err != nil {
				return err
			}
			for i := range batch {
				if err := upsertPoint(tx, collection, dim, &batch[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Point is re-exported so callers in this package read naturally.
type Point = storage.Point

func upsertPoint(tx *badger.Txn, collection string, dim int, p *Point) error {
	if p.ID == "" {
		return fmt.Errorf("%w: point without id", storage.ErrInvalidQuery)
	}
	if len(p.Vector) != dim {
		return fmt.Errorf("%w: point %s has %d, collection %s has %d", storage.ErrDimensionMismatch, p.ID, len(p.Vector), collection, dim)
	}
	// drop index entries of a previous version that was filed elsewhere
	prev, err := getPoint(tx, collection, p.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if prev != nil {
		if prev.Payload.DocumentID != p.Payload.DocumentID {
			if err := tx.Delete(makePointDocKey(collection, prev.Payload.DocumentID, p.ID)); err != nil {
				return err
			}
		}
		if prev.Payload.EntityID != p.Payload.EntityID {
			if err := tx.Delete(makePointEntityKey(collection, prev.Payload.EntityID, p.ID)); err != nil {
				return err
			}
		}
	}
	if err := tx.Set(makePointKey(collection, p.ID), storage.MarshalPoint(p)); err != nil {
		return err
	}
	if err := tx.Set(makePointDocKey(collection, p.Payload.DocumentID, p.ID), nil); err != nil {
		return err
	}
	return tx.Set(makePointEntityKey(collection, p.Payload.EntityID, p.ID), nil)
}

// Search scores every point that passes filter and returns the best topK.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter *storage.Filter) ([]storage.ScoredPoint, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	var entityIDs map[string]struct{}
	if filter != nil && len(filter.EntityIDs) > 0 {
		entityIDs = make(map[string]struct{}, len(filter.EntityIDs))
		for _, id := range filter.EntityIDs {
			entityIDs[id] = struct{}{}
		}
	}

	var results []storage.ScoredPoint
	err := s.backend.View(func(tx *badger.Txn) error {
		dim, err := collectionDimension(tx, collection)
		if err != nil {
			return err
		}
		if len(vector) != dim {
			return fmt.Errorf("%w: query has %d, collection %s has %d", storage.ErrDimensionMismatch, len(vector), collection, dim)
		}
		return iteratePoints(ctx, tx, collection, func(p *Point) error {
			if filter != nil {
				if filter.DocumentID != "" && p.Payload.DocumentID != filter.DocumentID {
					return nil
				}
				if filter.EntityType != "" && p.Payload.EntityType != filter.EntityType {
					return nil
				}
				if entityIDs != nil {
					if _, ok := entityIDs[p.Payload.EntityID]; !ok {
						return nil
					}
				}
			}
			results = append(results, storage.ScoredPoint{Point: *p, Score: cosineSimilarity(vector, p.Vector)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, ties by ID for stable output
	slices.SortFunc(results, func(a, b storage.ScoredPoint) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ChunksForEntities returns up to limit points per entity ordered by chunk index.
func (s *VectorStore) ChunksForEntities(ctx context.Context, collection string, entityIDs []string, limit int) ([]Point, error) {
	var out []Point
	err := s.backend.View(func(tx *badger.Txn) error {
		for _, entityID := range entityIDs {
			prefix := makePartialPointEntityKey(collection, entityID)
			ids, err := keySuffixes(tx, prefix)
			if err != nil {
				return err
			}
			points := make([]Point, 0, len(ids))
			for _, id := range ids {
				p, err := getPoint(tx, collection, id)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						continue
					}
					return err
				}
				points = append(points, *p)
			}
			slices.SortFunc(points, func(a, b Point) int {
				return a.Payload.ChunkIndex - b.Payload.ChunkIndex
			})
			if limit > 0 && len(points) > limit {
				points = points[:limit]
			}
			out = append(out, points...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByDocument removes every point of a document.
func (s *VectorStore) DeleteByDocument(ctx context.Context, collection, documentID string) (int, error) {
	var keys [][]byte
	count := 0
	err := s.backend.View(func(tx *badger.Txn) error {
		prefix := makePartialPointDocKey(collection, documentID)
		ids, err := keySuffixes(tx, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			keys = append(keys, makePointDocKey(collection, documentID, id))
			p, err := getPoint(tx, collection, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			keys = append(keys,
				makePointKey(collection, id),
				makePointEntityKey(collection, p.Payload.EntityID, id))
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.backend.deleteKeys(keys); err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the number of points in a collection.
func (s *VectorStore) Count(ctx context.Context, collection string) (int, error) {
	keys, err := s.backend.scanKeys(makePartialPointKey(collection))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ForEachPoint calls fn with consecutive batches of the collection's points.
func (s *VectorStore) ForEachPoint(ctx context.Context, collection string, batchSize int, fn func([]Point) error) error {
	if batchSize <= 0 {
		batchSize = upsertBatch
	}
	return s.backend.View(func(tx *badger.Txn) error {
		batch := make([]Point, 0, batchSize)
		err := iteratePoints(ctx, tx, collection, func(p *Point) error {
			batch = append(batch, *p)
			if len(batch) < batchSize {
				return nil
			}
			err := fn(batch)
			batch = make([]Point, 0, batchSize)
			return err
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			return fn(batch)
		}
		return nil
	})
}

func iteratePoints(ctx context.Context, tx *badger.Txn, collection string, fn func(*Point) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialPointKey(collection)
	iter := tx.NewIterator(opts)
	defer iter.Close()
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var p *Point
		err := iter.Item().Value(func(val []byte) error {
			var err error
			p, err = storage.UnmarshalPoint(val)
			return err
		})
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func keySuffixes(tx *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()
	var out []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		s, err := suffixAfter(iter.Item().Key(), prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func getPoint(tx *badger.Txn, collection, id string) (*Point, error) {
	item, err := tx.Get(makePointKey(collection, id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: point %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	var p *Point
	err = item.Value(func(val []byte) error {
		var err error
		p, err = storage.UnmarshalPoint(val)
		return err
	})
	return p, err
}

func collectionDimension(tx *badger.Txn, collection string) (int, error) {
	item, err := tx.Get(makeCollectionKey(collection))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: collection %s", storage.ErrNotFound, collection)
		}
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		var err error
		dim, err = storage.UnmarshalInt(val)
		return err
	})
	return dim, err
}

// cosineSimilarity returns 0 when either vector has zero length.
func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
