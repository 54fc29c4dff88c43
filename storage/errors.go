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

package storage

import "errors"

// Lookup and lifecycle errors shared by every store.
var (
	ErrNotFound      = errors.New("record not found")
	ErrStorageClosed = errors.New("storage is closed")
)

// ErrInvalidTransition rejects a job status change outside the lifecycle, and
// any write to a job that is already completed or cancelled.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ErrInvalidQuery covers bad graph traversal arguments: unknown directions,
// depths out of range and relationships missing an endpoint.
var ErrInvalidQuery = errors.New("invalid query parameters")

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimension its collection was created with.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Encoding errors of the binary job and point formats.
var (
	ErrSerializationFailed = errors.New("serialization failed")
	ErrTruncatedData       = errors.New("truncated data")
)
