package ingestion

import "errors"

var (
	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrGraphStoreRequired is returned when a graph store is not provided.
	ErrGraphStoreRequired = errors.New("graph store required")

	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotResumable is returned when resuming a job that is pending, completed or cancelled.
	ErrJobNotResumable = errors.New("job is not resumable")

	// ErrJobActive is returned when an operation needs the job to be idle.
	ErrJobActive = errors.New("job is being processed")

	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job already finished")

	// ErrPipelineClosed is returned after Close.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrCallTimeout is returned when a collaborator call exceeds the call timeout.
	ErrCallTimeout = errors.New("call timed out")

	// errCancelled unwinds a run after a user cancellation. Never returned to callers.
	errCancelled = errors.New("job cancelled")
)
