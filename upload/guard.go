package upload

import (
	"github.com/bitrise-io/wizard-uploads/upload/progress"
)

// Guard answers the host's questions before it tears down the process or logs the user out.
type Guard struct {
	registry *progress.Registry
}

// NewGuard ...
func NewGuard(registry *progress.Registry) *Guard {
	return &Guard{registry: registry}
}

// ShouldWarnBeforeExit is true while an upload would be lost with the process.
func (g *Guard) ShouldWarnBeforeExit() bool {
	return g.registry.HasBlockingUploads()
}

// Blocking returns the entries that would be lost.
func (g *Guard) Blocking() []progress.Entry {
	var entries []progress.Entry
	for _, item := range g.registry.ActiveItems() {
		if entry, ok := g.registry.Get(item.ID); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ConfirmLogout decides whether logout may proceed. With blocking uploads confirm is asked;
// if it agrees every blocking upload is canceled before ConfirmLogout returns true.
func (g *Guard) ConfirmLogout(confirm func(blocking []progress.Entry) bool) bool {
	blocking := g.Blocking()
	if len(blocking) == 0 {
		return true
	}
	if confirm == nil || !confirm(blocking) {
		return false
	}
	g.registry.CancelBlocking()
	return true
}
