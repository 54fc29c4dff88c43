package ingestion

import (
	"context"
	"time"

	"github.com/poiesic/grundgraph/core"
)

// Subscribe streams a job's progress. The first update is a snapshot of the
// current state, followed by live updates in publish order. A keepalive
// update is sent after each idle interval. The channel is closed after a
// terminal update, when ctx is done, or when the pipeline closes.
func (p *Pipeline) Subscribe(ctx context.Context, jobID string) (<-chan core.ProgressUpdate, error) {
	if _, err := p.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	// Subscribe before taking the snapshot so no update falls in between.
	sub := p.broker.subscribe(jobID)
	snapshot, ok := p.broker.lastUpdate(jobID)
	if !ok {
		job, err := p.GetJob(ctx, jobID)
		if err != nil {
			p.broker.unsubscribe(sub)
			return nil, err
		}
		snapshot = core.SnapshotFromJob(job)
	}

	out := make(chan core.ProgressUpdate)
	go p.stream(ctx, sub, snapshot, out)
	return out, nil
}

func (p *Pipeline) stream(ctx context.Context, sub *subscription, snapshot core.ProgressUpdate, out chan<- core.ProgressUpdate) {
	defer close(out)
	defer p.broker.unsubscribe(sub)

	send := func(u core.ProgressUpdate) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		case <-p.closing:
			return false
		}
	}

	if !send(snapshot) || snapshot.Stage.IsTerminal() {
		return
	}

	timer := time.NewTimer(p.keepalive)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closing:
			return
		case <-sub.notify:
			for _, u := range sub.drain() {
				// the snapshot may already cover buffered updates
				if u == snapshot || (u.Progress < snapshot.Progress && !u.Stage.IsTerminal()) {
					continue
				}
				if !send(u) || u.Stage.IsTerminal() {
					return
				}
				snapshot = u
			}
		case <-timer.C:
			// The persisted state is authoritative when no run reports anymore.
			job, err := p.jobs.GetJob(ctx, sub.jobID)
			if err != nil {
				return
			}
			if job.Status.IsTerminal() {
				send(core.SnapshotFromJob(job))
				return
			}
			if !send(core.ProgressUpdate{
				JobID:          sub.jobID,
				Stage:          core.StageKeepalive,
				Progress:       snapshot.Progress,
				Message:        "keepalive",
				ItemsCompleted: snapshot.ItemsCompleted,
				ItemsTotal:     snapshot.ItemsTotal,
				Timestamp:      time.Now().UTC(),
			}) {
				return
			}
		}
		timer.Reset(p.keepalive)
	}
}
