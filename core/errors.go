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

import "errors"

// Domain validation errors
var (
	// ErrInvalidOptions indicates ProcessingOptions failed validation.
	ErrInvalidOptions = errors.New("invalid processing options")

	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap indicates an overlap outside [0, chunk size).
	ErrInvalidOverlap = errors.New("chunk overlap must be >= 0 and < chunk size")

	// ErrUnknownLinkingStrategy indicates an unsupported glossary linking strategy.
	ErrUnknownLinkingStrategy = errors.New("unknown glossary linking strategy")

	// ErrInvalidEntity indicates an Entity failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidMetadata indicates a metadata value of an unsupported type.
	ErrInvalidMetadata = errors.New("unsupported metadata value")

	// ErrInvalidJobStatus indicates an unknown JobStatus value.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrEmptyFilePath indicates a job was submitted without a file path.
	ErrEmptyFilePath = errors.New("file path cannot be empty")
)
