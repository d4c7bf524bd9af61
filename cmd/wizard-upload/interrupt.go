package main

import (
	"context"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
)

// watchInterrupts stops the run on an interrupt. While uploads are in flight the first interrupt
// only warns, the second cancels them.
func watchInterrupts(ctx context.Context, signals <-chan os.Signal, guard *upload.Guard, cancel context.CancelFunc, logger log.Logger) {
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
		}

		if !warned && guard.ShouldWarnBeforeExit() {
			warned = true
			logger.Warnf("%d upload(s) in progress will be lost. Interrupt again to cancel them.", len(guard.Blocking()))
			continue
		}

		guard.ConfirmLogout(func(blocking []progress.Entry) bool {
			logger.Warnf("Canceling %d upload(s)", len(blocking))
			return true
		})
		cancel()
		return
	}
}
