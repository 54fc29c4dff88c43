package ingestion

import (
	"sync"
	"time"

	"github.com/poiesic/grundgraph/core"
)

// terminalGrace is how long a finished job's last update is kept after its
// final subscriber left. Updates racing the terminal one are dropped meanwhile.
const terminalGrace = time.Minute

// broker fans progress updates out to subscribers. Publishing never blocks:
// every subscription buffers its own updates.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
	last map[string]core.ProgressUpdate

	// finished records when each job published its terminal update.
	finished map[string]time.Time
	grace    time.Duration
	now      func() time.Time
}

func newBroker() *broker {
	return &broker{
		subs:     make(map[string]map[*subscription]struct{}),
		last:     make(map[string]core.ProgressUpdate),
		finished: make(map[string]time.Time),
		grace:    terminalGrace,
		now:      time.Now,
	}
}

// subscription is one listener's queue for a single job.
type subscription struct {
	jobID  string
	mu     sync.Mutex
	queue  []core.ProgressUpdate
	notify chan struct{}
}

func (s *subscription) push(u core.ProgressUpdate) {
	s.mu.Lock()
	s.queue = append(s.queue, u)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// drain returns and clears the buffered updates in publish order.
func (s *subscription) drain() []core.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (b *broker) subscribe(jobID string) *subscription {
	s := &subscription{jobID: jobID, notify: make(chan struct{}, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscription]struct{})
	}
	b.subs[jobID][s] = struct{}{}
	return s
}

func (b *broker) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.jobID], s)
	if len(b.subs[s.jobID]) == 0 {
		delete(b.subs, s.jobID)
	}
	b.prune()
}

// publish delivers u to the job's subscribers. Once a terminal update was
// published, later updates are dropped until reset.
func (b *broker) publish(u core.ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.last[u.JobID]; ok && prev.Stage.IsTerminal() {
		return
	}
	b.last[u.JobID] = u
	if u.Stage.IsTerminal() {
		b.finished[u.JobID] = b.now()
	}
	for s := range b.subs[u.JobID] {
		s.push(u)
	}
	b.prune()
}

// prune forgets finished jobs that nobody listens to once the grace period
// is over. The caller holds b.mu.
func (b *broker) prune() {
	now := b.now()
	for jobID, at := range b.finished {
		if len(b.subs[jobID]) > 0 || now.Sub(at) < b.grace {
			continue
		}
		delete(b.finished, jobID)
		delete(b.last, jobID)
	}
}

// lastUpdate returns the most recent update published for a job.
func (b *broker) lastUpdate(jobID string) (core.ProgressUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.last[jobID]
	return u, ok
}

// reset forgets the last update so a new run of the job can publish again.
func (b *broker) reset(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, jobID)
	delete(b.finished, jobID)
}

func (b *broker) subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
