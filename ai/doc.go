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

// Package ai defines the embedding contract used by ingestion, search and
// reembedding.
//
// ai/openai talks to OpenAI-compatible endpoints such as Ollama or vLLM.
// ai/mock produces deterministic vectors for tests and records its calls.
//
// Embedders report a fixed Dimension. The openai embedder rejects responses of
// any other length with ErrDimensionMismatch.
//
// CachingEmbedder keeps recent query vectors in an LRU keyed by text;
// openai.NewProvider installs it when Config.CacheSize is positive.
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	vectors, err := provider.Embedder().EmbedTexts(ctx, []string{"ORP.1", "CON.1"})
package ai
