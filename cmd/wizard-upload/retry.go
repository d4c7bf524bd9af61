package main

import (
	"errors"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
)

// retrier is the part of the orchestrator an autoRetrier needs.
type retrier interface {
	Retry(id string) error
}

// autoRetrier restarts failed transfers and destination requests until an entry used up maxRetries retries. Bytes that
// reached storage but were not registered are not retried.
type autoRetrier struct {
	target     retrier
	maxRetries int
	logger     log.Logger
}

func newAutoRetrier(target retrier, maxRetries int, logger log.Logger) *autoRetrier {
	return &autoRetrier{target: target, maxRetries: maxRetries, logger: logger}
}

func (a *autoRetrier) onChange(change progress.Change) {
	entry := change.Entry
	if change.Removed || entry.Status != progress.StatusFailed {
		return
	}
	if entry.FailureKind != progress.FailureTransfer && entry.FailureKind != progress.FailureDestination {
		return
	}
	if entry.Attempt > a.maxRetries {
		return
	}

	a.logger.Warnf("Retrying %s (%d/%d)", entry.File.Name, entry.Attempt, a.maxRetries)
	if err := a.target.Retry(entry.ID); err != nil && !errors.Is(err, progress.ErrNotRetryable) {
		a.logger.Errorf("Failed to retry %s: %s", entry.File.Name, err)
	}
}
