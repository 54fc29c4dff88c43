// Package reembed rebuilds the vectors of a stored collection with a new or
// updated embedding model.
//
// Chunk text is read back from the vector payloads, so the source documents
// are not needed. Points are processed in batches with retry and exponential
// backoff, progress is written to a writer, and vectors are normalized to
// unit length before they are stored. When the new model changes the vector
// dimension the result must go to a different collection.
package reembed
