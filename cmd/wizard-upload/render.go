package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bitrise-io/wizard-uploads/upload"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"golang.org/x/term"
)

const lineWidth = 80

// renderer keeps a single status line of the running uploads at the bottom of a terminal.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	live    bool
	entries map[string]progress.Entry
	order   []string
	drawn   bool
}

func newRenderer(out io.Writer, live bool) *renderer {
	return &renderer{
		out:     out,
		live:    live,
		entries: map[string]progress.Entry{},
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *renderer) onChange(change progress.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if change.Removed {
		delete(r.entries, change.ID)
	} else {
		if _, ok := r.entries[change.ID]; !ok {
			r.order = append(r.order, change.ID)
		}
		r.entries[change.ID] = change.Entry
	}
	r.draw()
}

// notifier clears the status line around every notification so log lines are not garbled.
func (r *renderer) notifier(next upload.Notifier) upload.Notifier {
	return upload.NotifierFunc(func(n upload.Notification) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.clear()
		next.Notify(n)
		r.draw()
	})
}

func (r *renderer) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
}

func (r *renderer) running() []progress.Entry {
	var entries []progress.Entry
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok && entry.Status == progress.StatusRunning {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (r *renderer) draw() {
	if !r.live {
		return
	}
	line := statusLine(r.running())
	if line == "" {
		r.clear()
		return
	}
	fmt.Fprintf(r.out, "\r%-*s", lineWidth, line)
	r.drawn = true
}

func (r *renderer) clear() {
	if !r.live || !r.drawn {
		return
	}
	fmt.Fprintf(r.out, "\r%s\r", strings.Repeat(" ", lineWidth))
	r.drawn = false
}

// statusLine summarizes running entries; the last one is shown by name.
func statusLine(running []progress.Entry) string {
	if len(running) == 0 {
		return ""
	}

	var loaded, total int64
	for _, entry := range running {
		loaded += entry.LoadedBytes
		total += entry.TotalBytes
	}

	last := running[len(running)-1]
	return fmt.Sprintf("%s %s (%s / %s) | %s: %s",
		color.CyanString("Uploading %d file(s):", len(running)),
		percent(loaded, total),
		units.HumanSize(float64(loaded)),
		units.HumanSize(float64(total)),
		truncate(last.File.Name, 20),
		percent(last.LoadedBytes, last.TotalBytes),
	)
}

func percent(loaded, total int64) string {
	if total <= 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(loaded)*100/float64(total))
}

// truncate keeps the last maxLen runes of s.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return "..." + string(runes[len(runes)-maxLen+3:])
}
