// Package progress keeps track of every upload started in the process: byte progress, status and
// the capabilities to cancel or retry them.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

var (
	// ErrNotFound is returned for ids without an entry.
	ErrNotFound = errors.New("upload not found")
	// ErrNotRetryable is returned when retrying an entry that is not Canceled or Failed, or has
	// no retry capability.
	ErrNotRetryable = errors.New("upload cannot be retried")
	// ErrAlreadyRunning is returned when adding an id whose entry is still Running.
	ErrAlreadyRunning = errors.New("upload is already running")
	// ErrNoCancel is returned when adding an entry without a cancel capability.
	ErrNoCancel = errors.New("upload has no cancel capability")
)

// Capabilities act on the transfer behind an entry. Both are called without registry locks held,
// so they may call back into the registry.
type Capabilities struct {
	// Cancel aborts the in-flight transfer.
	Cancel func()
	// Retry starts the upload again under the same id. attempt is the attempt being retried and
	// is meant for Replace.
	Retry func(attempt int) error
}

// Change is delivered to subscribers. Entry is the latest state at delivery time.
type Change struct {
	ID      string
	Entry   Entry
	Removed bool
}

type record struct {
	entry Entry
	caps  Capabilities
}

// Registry is the single store of upload entries. Entries are replaced, never mutated in place,
// so snapshots handed out stay valid.
type Registry struct {
	mu          sync.Mutex
	records map[string]record
	// attempts keeps the last attempt of every id ever added, so a removed id that is added
	// again never reuses an attempt number a dismissed transfer may still report with.
	attempts    map[string]int
	order       []string
	tracker     *Tracker
	subscribers map[int]func(Change)
	nextSub     int
	logger      log.Logger
}

// NewRegistry ...
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		records:     map[string]record{},
		attempts:    map[string]int{},
		tracker:     NewTracker(),
		subscribers: map[int]func(Change){},
		logger:      logger,
	}
}

// Add inserts a Running entry for entry.ID, replacing a terminal entry of the same id, and
// returns the attempt number callbacks of this run have to report with.
func (r *Registry) Add(entry Entry, caps Capabilities) (int, error) {
	return r.add(entry, caps, 0)
}

// Replace is Add for a restart: it only succeeds while attempt is still the current, terminal
// attempt of entry.ID, so a retry racing with Remove or a newer start does nothing.
func (r *Registry) Replace(entry Entry, attempt int, caps Capabilities) (int, error) {
	if attempt <= 0 {
		return 0, fmt.Errorf("invalid attempt: %d", attempt)
	}
	return r.add(entry, caps, attempt)
}

func (r *Registry) add(entry Entry, caps Capabilities, replaces int) (int, error) {
	if entry.ID == "" {
		return 0, fmt.Errorf("entry id must not be empty")
	}
	if entry.File.Size < 0 {
		return 0, fmt.Errorf("invalid file size: %d", entry.File.Size)
	}
	if caps.Cancel == nil {
		return 0, fmt.Errorf("add %s: %w", entry.ID, ErrNoCancel)
	}

	r.mu.Lock()
	prev, ok := r.records[entry.ID]
	switch {
	case ok && prev.entry.Status == StatusRunning:
		r.mu.Unlock()
		return 0, fmt.Errorf("add %s: %w", entry.ID, ErrAlreadyRunning)
	case replaces != 0 && !ok:
		r.mu.Unlock()
		return 0, fmt.Errorf("restart %s: %w", entry.ID, ErrNotFound)
	case replaces != 0 && prev.entry.Attempt != replaces:
		r.mu.Unlock()
		return 0, fmt.Errorf("restart %s: attempt %d was replaced by %d: %w", entry.ID, replaces, prev.entry.Attempt, ErrNotRetryable)
	}
	if !ok {
		r.order = append(r.order, entry.ID)
	}
	attempt := r.attempts[entry.ID] + 1
	r.attempts[entry.ID] = attempt

	entry.TotalBytes = entry.File.Size
	entry.LoadedBytes = 0
	entry.Status = StatusRunning
	entry.Attempt = attempt
	entry.Message = ""
	entry.FailureKind = FailureNone
	entry.cancelable = caps.Cancel != nil
	entry.retryable = caps.Retry != nil

	r.records[entry.ID] = record{entry: entry, caps: caps}
	r.tracker.Add(entry.ID, entry.BrowserDependent)
	r.mu.Unlock()

	r.logger.Debugf("Upload %s (%s) started, attempt %d", entry.ID, entry.File.Name, attempt)
	r.notify(entry.ID)

	return attempt, nil
}

// Update applies event to the current attempt of id. It reports whether the entry changed; an
// unknown id is a no-op.
func (r *Registry) Update(id string, event Event) bool {
	return r.UpdateAttempt(id, 0, event)
}

// UpdateAttempt applies event if attempt is the current attempt of id (0 matches any). Callbacks
// of a replaced attempt are ignored.
func (r *Registry) UpdateAttempt(id string, attempt int, event Event) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || (attempt != 0 && attempt != rec.entry.Attempt) {
		r.mu.Unlock()
		return false
	}

	next, changed := Reduce(rec.entry, event)
	if !changed {
		r.mu.Unlock()
		return false
	}
	rec.entry = next
	r.records[id] = rec
	if next.Status != StatusRunning {
		r.tracker.Remove(id)
	}
	r.mu.Unlock()

	if next.Status != StatusRunning {
		r.logger.Debugf("Upload %s finished: %s", id, next.Status)
	}
	r.notify(id)

	return true
}

// Remove dismisses the entry of id. A running transfer is canceled first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.tracker.Remove(id)
	r.mu.Unlock()

	if rec.entry.Status == StatusRunning && rec.caps.Cancel != nil {
		rec.caps.Cancel()
	}
	r.logger.Debugf("Upload %s dismissed", id)
	r.notify(id)

	return nil
}

// Cancel aborts the transfer of id and marks it Canceled. Canceling an entry that is no longer
// running is a no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	next, changed := Reduce(rec.entry, Canceled{})
	if !changed {
		r.mu.Unlock()
		return nil
	}
	rec.entry = next
	r.records[id] = rec
	r.tracker.Remove(id)
	r.mu.Unlock()

	if rec.caps.Cancel != nil {
		rec.caps.Cancel()
	}
	r.logger.Debugf("Upload %s canceled", id)
	r.notify(id)

	return nil
}

// Retry restarts a Canceled or Failed upload through its retry capability.
func (r *Registry) Retry(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("retry %s: %w", id, ErrNotFound)
	}
	if !rec.entry.Retryable() {
		return fmt.Errorf("retry %s (%s): %w", id, rec.entry.Status, ErrNotRetryable)
	}

	r.logger.Debugf("Retrying upload %s", id)
	return rec.caps.Retry(rec.entry.Attempt)
}

// CancelBlocking cancels every running browser-dependent upload and returns their ids.
func (r *Registry) CancelBlocking() []string {
	var canceled []string
	for _, item := range r.tracker.Items() {
		if err := r.Cancel(item.ID); err != nil {
			r.logger.Warnf("Failed to cancel upload %s: %s", item.ID, err)
			continue
		}
		canceled = append(canceled, item.ID)
	}
	return canceled
}

// Get returns the entry of id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec.entry, ok
}

// List returns all entries in the order they were first added.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.records[id].entry)
	}
	return entries
}

// HasBlockingUploads reports whether a running upload would be lost with the process.
func (r *Registry) HasBlockingUploads() bool {
	return r.tracker.HasBlockingUploads()
}

// ActiveItems returns the running browser-dependent uploads.
func (r *Registry) ActiveItems() []ActiveItem {
	return r.tracker.Items()
}

// Subscribe registers fn for every effective change and returns a function removing it. fn runs
// on the goroutine that made the change.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Registry) notify(id string) {
	r.mu.Lock()
	if len(r.subscribers) == 0 {
		r.mu.Unlock()
		return
	}
	rec, ok := r.records[id]
	change := Change{ID: id, Entry: rec.entry, Removed: !ok}
	subscribers := make([]func(Change), 0, len(r.subscribers))
	for i := 0; i < r.nextSub; i++ {
		if fn, ok := r.subscribers[i]; ok {
			subscribers = append(subscribers, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range subscribers {
		fn(change)
	}
}
