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

// Package storage provides the storage abstraction layer for grundgraph.
//
// Three stores back the system:
//
//   - JobRepository: durable job lifecycle state and per-chunk completion.
//     This is the only authoritative source of "is this job cancelled" and
//     "which chunks are done".
//   - VectorStore: chunk vectors with payloads, searched by cosine similarity.
//   - GraphStore: entities and relationships with merge semantics.
//
// Implementations live in subpackages:
//
//	jobs, err := badger.NewJobRepository(backend)
//	vectors := badger.NewVectorStore(backend)
//	graph, err := sqlite.Open(path)
//
// Records are serialized with mus-go (see MarshalJob, MarshalPoint).
//
// # Idempotency
//
// Vector upserts are keyed by chunk ID, graph nodes by entity ID and graph
// edges by (source, target, type). Repeating any write is safe; this is what
// makes job resume at-least-once without duplicates.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package storage
