package ai

import "errors"

var (
	// ErrInvalidConfig indicates an incomplete or malformed Config.
	ErrInvalidConfig = errors.New("ai config")

	// ErrDimensionMismatch indicates the provider returned vectors of an unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmbeddingCount indicates the provider returned a different number of vectors than texts.
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)
