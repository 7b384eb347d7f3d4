package batch

import (
	"sync"
	"time"
)

// Progress tracks how far a run has got through its collection. The
// pipeline writes it; progress views only ever see Snapshots.
type Progress struct {
	mu sync.Mutex

	total, processed, failed int
	chunks, chunksDone       int
	chunkSize                int
	started, updated         time.Time

	now func() time.Time
}

// NewProgress returns a tracker for total items split into chunks of
// chunkSize.
func NewProgress(total, chunks, chunkSize int) *Progress {
	p := &Progress{total: total, chunks: chunks, chunkSize: chunkSize, now: time.Now}
	p.started = p.now()
	p.updated = p.started
	return p
}

// AddProcessed accounts for n more items, failed of them unsuccessfully.
func (p *Progress) AddProcessed(n, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed += n
	p.failed += failed
	p.updated = p.now()
}

// FinishBatch marks one more chunk as done, whether it was fetched or not.
func (p *Progress) FinishBatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksDone++
	p.updated = p.now()
}

// Snapshot returns the current state with the rate and remaining time
// derived from the elapsed wall time.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressSnapshot{
		TotalItems:       p.total,
		ProcessedItems:   p.processed,
		FailedItems:      p.failed,
		TotalBatches:     p.chunks,
		ProcessedBatches: p.chunksDone,
		BatchSize:        p.chunkSize,
		StartTime:        p.started,
		LastUpdateTime:   p.updated,
		ElapsedTime:      p.now().Sub(p.started),
	}
	if secs := s.ElapsedTime.Seconds(); secs > 0 {
		s.ItemsPerSecond = float64(p.processed) / secs
	}
	if p.processed > 0 && p.processed < p.total {
		perItem := s.ElapsedTime / time.Duration(p.processed)
		s.Remaining = perItem * time.Duration(p.total-p.processed)
	}
	return s
}

// ProgressSnapshot is a point-in-time copy of a Progress.
type ProgressSnapshot struct {
	TotalItems       int
	ProcessedItems   int
	FailedItems      int
	TotalBatches     int
	ProcessedBatches int
	BatchSize        int
	StartTime        time.Time
	LastUpdateTime   time.Time
	ElapsedTime      time.Duration
	ItemsPerSecond   float64
	Remaining        time.Duration
}

// Ratio returns progress as a fraction in [0, 1]. An empty run is
// complete.
func (s ProgressSnapshot) Ratio() float64 {
	if s.TotalItems <= 0 {
		return 1
	}
	return min(float64(s.ProcessedItems)/float64(s.TotalItems), 1)
}

// Done reports whether every item has been accounted for.
func (s ProgressSnapshot) Done() bool {
	return s.ProcessedItems >= s.TotalItems
}
