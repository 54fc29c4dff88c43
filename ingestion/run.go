package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
)

// Progress milestones of a run.
const (
	progressParsing   = 0.05
	progressExtracted = 0.3
	progressStored    = 0.8
	progressNodes     = 0.9
	progressDone      = 1.0

	nodeReportEvery = 50
	edgeReportEvery = 100
)

// run is the in-process state of one active job.
type run struct {
	job         *core.JobRecord
	jobs        storage.JobRepository
	broker      *broker
	callTimeout time.Duration
	logger      *slog.Logger

	cancelled atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	// floor is the highest progress reported so far. Only the run goroutine touches it.
	floor float64
}

func newRun(job *core.JobRecord, p *Pipeline) *run {
	return &run{
		job:         job,
		jobs:        p.jobs,
		broker:      p.broker,
		callTimeout: p.callTimeout,
		logger:      p.logger.With("job_id", job.ID),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		floor:       job.Progress,
	}
}

func (r *run) id() string {
	return r.job.ID
}

// cancel flags the run. In-flight calls are not interrupted.
func (r *run) cancel() {
	r.stopOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.stop)
	})
}

// checkCancelled returns errCancelled once the run was cancelled.
func (r *run) checkCancelled() error {
	if r.cancelled.Load() {
		return errCancelled
	}
	return nil
}

// report persists progress together with update and publishes it. Progress
// never moves below what was already reported. A rejected transition means
// the job was cancelled underneath the run.
func (r *run) report(ctx context.Context, stage core.Stage, progress float64, message string, items, total int, update storage.JobUpdate) error {
	progress = max(min(progress, progressDone), r.floor)
	r.floor = progress
	update.Progress = &progress

	if _, err := r.jobs.UpdateJobProgress(ctx, r.id(), update); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			r.cancel()
			return errCancelled
		}
		return fmt.Errorf("persisting progress: %w", err)
	}
	r.broker.publish(core.ProgressUpdate{
		JobID:          r.id(),
		Stage:          stage,
		Progress:       progress,
		Message:        message,
		ItemsCompleted: items,
		ItemsTotal:     total,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// call runs fn with the per-call timeout. Exceeding it yields ErrCallTimeout.
func (r *run) call(ctx context.Context, name string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrCallTimeout, name, r.callTimeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
