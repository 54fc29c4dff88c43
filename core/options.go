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

package core

// LinkingStrategy selects how chunks are linked to glossary terms.
type LinkingStrategy string

const (
	// LinkExactMatch links a term when its text occurs case-insensitively in the chunk.
	LinkExactMatch LinkingStrategy = "exact_match"
	// LinkFuzzy additionally accepts near matches of the term's token window.
	LinkFuzzy LinkingStrategy = "fuzzy"
	// LinkNone disables glossary linking.
	LinkNone LinkingStrategy = "none"
)

// DefaultPreset names the taxonomy used when options leave it empty.
const DefaultPreset = "it-grundschutz"

// DefaultCollection is the vector collection chunks land in by default.
const DefaultCollection = "grundgraph"

// ProcessingOptions control one extraction and ingestion run.
// They are persisted with the job so a resume replays the same settings.
type ProcessingOptions struct {
	Preset            string          `json:"preset" yaml:"preset"`
	ChunkSize         int             `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap      int             `json:"chunk_overlap" yaml:"chunk_overlap"`
	ExtractGlossary   bool            `json:"extract_glossary" yaml:"extract_glossary"`
	TrackDiscontinued bool            `json:"track_discontinued" yaml:"track_discontinued"`
	StoreBookmarkIDs  bool            `json:"store_bookmark_ids" yaml:"store_bookmark_ids"`
	GlossaryLinking   LinkingStrategy `json:"glossary_linking" yaml:"glossary_linking"`
	CreateGraph       bool            `json:"create_graph" yaml:"create_graph"`
	CollectionName    string          `json:"collection_name" yaml:"collection_name"`
}

// DefaultProcessingOptions returns the settings used when a caller supplies none.
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		Preset:            DefaultPreset,
		ChunkSize:         512,
		ChunkOverlap:      128,
		ExtractGlossary:   true,
		TrackDiscontinued: true,
		StoreBookmarkIDs:  true,
		GlossaryLinking:   LinkExactMatch,
		CreateGraph:       true,
		CollectionName:    DefaultCollection,
	}
}

// WithDefaults fills empty string fields and a zero chunk size from the defaults.
// Boolean fields are taken as given.
func (o ProcessingOptions) WithDefaults() ProcessingOptions {
	d := DefaultProcessingOptions()
	if o.Preset == "" {
		o.Preset = d.Preset
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = d.ChunkSize
		if o.ChunkOverlap == 0 {
			o.ChunkOverlap = d.ChunkOverlap
		}
	}
	if o.GlossaryLinking == "" {
		o.GlossaryLinking = d.GlossaryLinking
	}
	if o.CollectionName == "" {
		o.CollectionName = d.CollectionName
	}
	return o
}
