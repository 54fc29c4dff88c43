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

import "fmt"

// Validate checks ProcessingOptions according to domain rules.
//
// Validation rules:
//   - ChunkSize must be positive
//   - ChunkOverlap must be >= 0 and strictly smaller than ChunkSize
//   - GlossaryLinking must be a known strategy
func (o ProcessingOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, ErrInvalidChunkSize)
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return fmt.Errorf("%w: %w (size %d, overlap %d)", ErrInvalidOptions, ErrInvalidOverlap, o.ChunkSize, o.ChunkOverlap)
	}
	if err := ValidateLinkingStrategy(o.GlossaryLinking); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// ValidateLinkingStrategy validates that a LinkingStrategy has a known value.
func ValidateLinkingStrategy(s LinkingStrategy) error {
	switch s {
	case LinkExactMatch, LinkFuzzy, LinkNone:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownLinkingStrategy, s)
}

// ValidateJobStatus validates that a JobStatus has a known value.
func ValidateJobStatus(s JobStatus) error {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled, JobResumable:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidJobStatus, s)
}

// ValidateEntity validates an Entity according to domain rules.
//
// Validation rules:
//   - ID and Type must not be empty
//   - Metadata values must be string, bool, int, float64 or []string
func ValidateEntity(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidEntity)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntity)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: empty type for %s", ErrInvalidEntity, e.ID)
	}
	if err := ValidateMetadata(e.Metadata); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntity, e.ID, err)
	}
	return nil
}

// ValidateMetadata checks that every value in m is of a supported type.
func ValidateMetadata(m Metadata) error {
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, float64, []string:
		default:
			return fmt.Errorf("%w: key %q has type %T", ErrInvalidMetadata, k, v)
		}
	}
	return nil
}
