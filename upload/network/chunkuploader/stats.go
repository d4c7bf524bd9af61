package chunkuploader

import (
	"sync"
	"time"
)

// Stats tracks part upload durations for hung detection.
type Stats struct {
	sum            time.Duration
	finishedChunks int64
	mu             sync.Mutex
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedChunks++
}

// Average returns the average upload duration of finished parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// FinishedCount returns the number of finished parts.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// progressCounter sums the bytes sent per part. A restarted part starts counting from zero again.
type progressCounter struct {
	mu     sync.Mutex
	sent   []int64
	notify ProgressFunc
}

func newProgressCounter(parts int, notify ProgressFunc) *progressCounter {
	return &progressCounter{sent: make([]int64, parts), notify: notify}
}

func (p *progressCounter) set(index int, n int64) {
	if p.notify == nil {
		return
	}
	p.mu.Lock()
	p.sent[index] = n
	var total int64
	for _, s := range p.sent {
		total += s
	}
	p.mu.Unlock()

	p.notify(total)
}
