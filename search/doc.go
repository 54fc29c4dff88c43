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

// Package search answers natural language queries over ingested documents.
//
// The Searcher combines vector similarity with the entity graph. Four
// strategies are supported:
//   - none: vector search only
//   - pre_filter: graph nodes matching the query terms, and their
//     neighbourhood, restrict the vector search
//   - post_enrich: vector hits are followed by chunks of their graph neighbours
//   - merge: each vector hit carries the subgraph around its entity
//
// Every result whose content contains all non stop-word query terms gets a
// verbatim boost before ranking.
package search
