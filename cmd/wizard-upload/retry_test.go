package main

import (
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
	"github.com/stretchr/testify/assert"
)

type retryRecorder struct {
	ids []string
	err error
}

func (r *retryRecorder) Retry(id string) error {
	r.ids = append(r.ids, id)
	return r.err
}

func failedEntry(attempt int, kind progress.FailureKind) progress.Entry {
	return progress.Entry{
		ID:          "a",
		File:        progress.FileInfo{Name: "a.csv"},
		Status:      progress.StatusFailed,
		Attempt:     attempt,
		FailureKind: kind,
	}
}

func TestAutoRetrier(t *testing.T) {
	tests := []struct {
		name      string
		change    progress.Change
		wantRetry bool
	}{
		{name: "first failure", change: progress.Change{ID: "a", Entry: failedEntry(1, progress.FailureTransfer)}, wantRetry: true},
		{name: "last retry", change: progress.Change{ID: "a", Entry: failedEntry(2, progress.FailureTransfer)}, wantRetry: true},
		{name: "retries used up", change: progress.Change{ID: "a", Entry: failedEntry(3, progress.FailureTransfer)}},
		{name: "destination failure", change: progress.Change{ID: "a", Entry: failedEntry(1, progress.FailureDestination)}, wantRetry: true},
		{name: "acknowledgement failure", change: progress.Change{ID: "a", Entry: failedEntry(1, progress.FailureAcknowledgement)}},
		{name: "running", change: progress.Change{ID: "a", Entry: runningEntry("a", "a.csv", 0, 10)}},
		{name: "removed", change: progress.Change{ID: "a", Removed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &retryRecorder{}
			newAutoRetrier(recorder, 2, log.NewLogger()).onChange(tt.change)

			if tt.wantRetry {
				assert.Equal(t, []string{"a"}, recorder.ids)
			} else {
				assert.Empty(t, recorder.ids)
			}
		})
	}
}

func TestAutoRetrier_Disabled(t *testing.T) {
	recorder := &retryRecorder{}
	newAutoRetrier(recorder, 0, log.NewLogger()).onChange(progress.Change{ID: "a", Entry: failedEntry(1, progress.FailureTransfer)})
	assert.Empty(t, recorder.ids)
}
