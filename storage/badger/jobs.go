package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
	now     func() time.Time
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &JobRepository{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *JobRepository) Close() error {
	return nil
}

// CreateJob allocates a pending job with a random ID.
func (r *JobRepository) CreateJob(ctx context.Context, jobType core.JobType, filename, filePath string, opts core.ProcessingOptions) (*core.JobRecord, error) {
	if filePath == "" {
		return nil, core.ErrEmptyFilePath
	}
	now := r.now()
	job := &core.JobRecord{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    core.JobPending,
		Filename:  filename,
		FilePath:  filePath,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeJobKey(job.ID), storage.MarshalJob(job))
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.JobRecord, error) {
	var job *core.JobRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns every job, newest first.
func (r *JobRepository) ListJobs(ctx context.Context) ([]*core.JobRecord, error) {
	return r.listJobs(ctx, nil)
}

// ResumableJobs returns jobs in the resumable state, newest first.
func (r *JobRepository) ResumableJobs(ctx context.Context) ([]*core.JobRecord, error) {
	return r.listJobs(ctx, func(j *core.JobRecord) bool {
		return j.Status == core.JobResumable
	})
}

func (r *JobRepository) listJobs(ctx context.Context, keep func(*core.JobRecord) bool) ([]*core.JobRecord, error) {
	var jobs []*core.JobRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			job, err := storage.UnmarshalJob(data)
			if err != nil {
				return err
			}
			if keep == nil || keep(job) {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, func(a, b *core.JobRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs, nil
}

// UpdateJobProgress applies a partial update under the job state machine.
func (r *JobRepository) UpdateJobProgress(ctx context.Context, id string, update storage.JobUpdate) (*core.JobRecord, error) {
	var result *core.JobRecord
	err := r.backend.Update(func(tx *badger.Txn) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if err := applyUpdate(job, update, r.now()); err != nil {
			return err
		}
		result = job
		return tx.Set(makeJobKey(id), storage.MarshalJob(job))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyUpdate mutates job in place. It is the single place the state machine lives.
func applyUpdate(job *core.JobRecord, update storage.JobUpdate, now time.Time) error {
	from := job.Status
	if from == core.JobCompleted || from == core.JobCancelled {
		return fmt.Errorf("%w: job %s is %s", storage.ErrInvalidTransition, job.ID, from)
	}
	to := from
	if update.Status != nil {
		to = *update.Status
		if err := core.ValidateJobStatus(to); err != nil {
			return err
		}
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, from, to)
		}
	}

	if update.Progress != nil {
		p := min(max(*update.Progress, 0), 1)
		// progress never moves backwards within a run
		if from == core.JobRunning && to == core.JobRunning && p < job.Progress {
			p = job.Progress
		}
		job.Progress = p
	}
	if update.TotalChunks != nil {
		job.TotalChunks = *update.TotalChunks
	}
	if update.CompletedChunks != nil {
		job.CompletedChunks = *update.CompletedChunks
	}
	if update.DocumentID != nil {
		job.DocumentID = *update.DocumentID
	}
	if update.Error != nil {
		job.ErrorMessage = *update.Error
	}

	if to != from {
		job.Status = to
		switch {
		case to == core.JobRunning:
			if job.StartedAt.IsZero() {
				job.StartedAt = now
			}
			job.CompletedAt = time.Time{}
			if update.Error == nil {
				job.ErrorMessage = ""
			}
		case to.IsTerminal():
			job.CompletedAt = now
		}
	}
	job.UpdatedAt = now
	return nil
}

func canTransition(from, to core.JobStatus) bool {
	switch from {
	case core.JobPending:
		return to == core.JobPending || to == core.JobRunning || to == core.JobFailed || to == core.JobCancelled
	case core.JobRunning:
		return true
	case core.JobResumable:
		return to == core.JobResumable || to == core.JobRunning || to == core.JobCancelled || to == core.JobFailed
	case core.JobFailed:
		return to == core.JobFailed || to == core.JobRunning
	default:
		return false
	}
}

// MarkChunkCompleted records a single completion marker.
func (r *JobRepository) MarkChunkCompleted(ctx context.Context, id, chunkID string) error {
	return r.MarkChunksCompleted(ctx, id, chunkID)
}

// MarkChunksCompleted records completion markers and bumps the counter by the
// number of markers that were not present yet.
func (r *JobRepository) MarkChunksCompleted(ctx context.Context, id string, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		added := 0
		for _, chunkID := range chunkIDs {
			key := makeJobChunkKey(id, chunkID)
			_, err := tx.Get(key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := tx.Set(key, nil); err != nil {
				return err
			}
			added++
		}
		if added == 0 {
			return nil
		}
		job.CompletedChunks += added
		job.UpdatedAt = r.now()
		return tx.Set(makeJobKey(id), storage.MarshalJob(job))
	})
}

// CompletedChunks returns the chunk IDs marked complete for a job.
func (r *JobRepository) CompletedChunks(ctx context.Context, id string) (map[string]struct{}, error) {
	prefix := makePartialJobChunkKey(id)
	keys, err := r.backend.scanKeys(prefix)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		chunkID, err := suffixAfter(k, prefix)
		if err != nil {
			return nil, err
		}
		done[chunkID] = struct{}{}
	}
	return done, nil
}

// DeleteJob removes a job and its completion markers.
func (r *JobRepository) DeleteJob(ctx context.Context, id string) (bool, error) {
	if _, err := r.GetJob(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := r.deleteJobData(id); err != nil {
		return false, err
	}
	return true, nil
}

func (r *JobRepository) deleteJobData(id string) error {
	keys, err := r.backend.scanKeys(makePartialJobChunkKey(id))
	if err != nil {
		return err
	}
	keys = append(keys, makeJobKey(id))
	return r.backend.deleteKeys(keys)
}

// CleanupOldJobs deletes terminal jobs that finished more than retention ago.
func (r *JobRepository) CleanupOldJobs(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := r.now().Add(-retention)
	old, err := r.listJobs(ctx, func(j *core.JobRecord) bool {
		if !j.Status.IsTerminal() {
			return false
		}
		finished := j.CompletedAt
		if finished.IsZero() {
			finished = j.UpdatedAt
		}
		return finished.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	for _, job := range old {
		if err := r.deleteJobData(job.ID); err != nil {
			return 0, err
		}
	}
	return len(old), nil
}

// MarkInterruptedResumable flags every running job as resumable.
func (r *JobRepository) MarkInterruptedResumable(ctx context.Context) (int, error) {
	running, err := r.listJobs(ctx, func(j *core.JobRecord) bool {
		return j.Status == core.JobRunning
	})
	if err != nil {
		return 0, err
	}
	resumable := core.JobResumable
	for _, job := range running {
		if _, err := r.UpdateJobProgress(ctx, job.ID, storage.JobUpdate{Status: &resumable}); err != nil {
			return 0, err
		}
	}
	return len(running), nil
}

func getJob(tx *badger.Txn, id string) (*core.JobRecord, error) {
	item, err := tx.Get(makeJobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: job %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalJob(data)
}
