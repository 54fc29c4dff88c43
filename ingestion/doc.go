// Package ingestion runs DocBook documents through extraction, chunk storage
// and graph population as durable background jobs.
//
// A Pipeline accepts a file path, persists a job record and returns at once.
// The job then moves through these stages:
//   - extraction on a bounded worker pool
//   - embedding and vector upsert of chunks in batches, checkpointing each
//     completed chunk in the job store
//   - creation of graph nodes and relationships
//
// Progress is persisted and fanned out to any number of subscribers.
//
// Cancellation is cooperative and checked between batches, node groups and
// relationships. A resumed job skips chunks that are already checkpointed,
// so only the remainder is embedded again.
package ingestion
