package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a single self-overwriting progress line.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu sync.Mutex

	w        io.Writer
	unit     string
	total    int
	every    int
	done     int
	printed  int
	begin    time.Time
	running  bool
	finished bool
}

// NewProgressTracker creates a tracker for total items that reports every
// reportInterval items. A non-positive interval reports on every change.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	return &ProgressTracker{
		w:     writer,
		unit:  "chunks",
		total: total,
		every: max(reportInterval, 1),
	}
}

// WithUnit sets the noun used in progress lines. Default is "chunks".
func (p *ProgressTracker) WithUnit(unit string) *ProgressTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unit = unit
	return p
}

// Start resets the counter and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begin = time.Now()
	p.running = true
	p.finished = false
	p.done, p.printed = 0, 0
}

// Update sets the number of processed items.
func (p *ProgressTracker) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(current)
}

// Increment adds delta processed items.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.done + delta)
}

// advance must be called with the lock held. Counts are capped at total.
func (p *ProgressTracker) advance(current int) {
	if !p.running || p.finished {
		return
	}
	p.done = min(current, p.total)
	if p.done-p.printed >= p.every {
		p.print()
		p.printed = p.done
	}
}

// Finish reports completion and ends the line. Later updates are ignored.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.finished {
		return
	}
	p.done = p.total
	p.print()
	fmt.Fprintln(p.w)
	p.finished = true
}

// Current returns the number of items processed so far.
func (p *ProgressTracker) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Elapsed returns the time since Start, or zero before Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0
	}
	return time.Since(p.begin)
}

func (p *ProgressTracker) print() {
	elapsed := time.Since(p.begin)
	var rate float64
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(p.done) / s
	}
	pct := 0.0
	if p.total > 0 {
		pct = 100 * float64(p.done) / float64(p.total)
	}

	line := fmt.Sprintf("\rProgress: %d/%d (%.1f%%) - %.1f %s/s", p.done, p.total, pct, rate, p.unit)
	if remaining := p.total - p.done; remaining > 0 && rate > 0 {
		eta := time.Duration(float64(remaining) / rate * float64(time.Second))
		line += fmt.Sprintf(" - ETA %v", eta.Round(time.Second))
	}
	io.WriteString(p.w, line)
}
