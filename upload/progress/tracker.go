package progress

import (
	"sort"
	"sync"
)

// ActiveItem is an upload that would be lost if the hosting process went away.
type ActiveItem struct {
	ID               string
	BrowserDependent bool
}

// Tracker is the set of running, browser-dependent uploads. The shell consults it before it lets
// the process exit or the user log out.
type Tracker struct {
	mu    sync.RWMutex
	items map[string]ActiveItem
}

// NewTracker ...
func NewTracker() *Tracker {
	return &Tracker{items: map[string]ActiveItem{}}
}

// Add marks id as blocking teardown. Uploads that survive the process are not tracked.
func (t *Tracker) Add(id string, browserDependent bool) {
	if !browserDependent {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = ActiveItem{ID: id, BrowserDependent: true}
}

// Remove ...
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
}

// Has ...
func (t *Tracker) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.items[id]
	return ok
}

// HasBlockingUploads is true while any tracked upload runs.
func (t *Tracker) HasBlockingUploads() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items) > 0
}

// Items returns the tracked uploads ordered by id.
func (t *Tracker) Items() []ActiveItem {
	t.mu.RLock()
	items := make([]ActiveItem, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	t.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
