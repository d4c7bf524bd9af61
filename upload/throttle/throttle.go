// Package throttle bounds how often byte progress is delivered to observers.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum time between two delivered progress updates.
const DefaultInterval = 60 * time.Millisecond

// Func receives byte progress.
type Func func(loaded, total int64)

// Clock returns the current time.
type Clock func() time.Time

// Option ...
type Option func(*Progress)

// WithClock replaces the wall clock, used by tests.
func WithClock(clock Clock) Option {
	return func(p *Progress) {
		p.now = clock
	}
}

// Progress forwards at most one update per interval to the wrapped Func. The final update
// (loaded == total) is always forwarded, and a suppressed update can be forced out with Flush.
type Progress struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	now     Clock
	forward Func

	pending       bool
	loaded, total int64
}

// New wraps forward. A non-positive interval disables throttling.
func New(interval time.Duration, forward Func, opts ...Option) *Progress {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	p := &Progress{
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		forward: forward,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Report offers an update. It is safe for concurrent use.
func (p *Progress) Report(loaded, total int64) {
	p.mu.Lock()
	final := total > 0 && loaded >= total
	if !final && !p.limiter.AllowN(p.now(), 1) {
		p.pending = true
		p.loaded, p.total = loaded, total
		p.mu.Unlock()
		return
	}
	p.pending = false
	p.mu.Unlock()

	p.forward(loaded, total)
}

// Flush forwards the last suppressed update, if any.
func (p *Progress) Flush() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = false
	loaded, total := p.loaded, p.total
	p.mu.Unlock()

	p.forward(loaded, total)
}
