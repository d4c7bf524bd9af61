package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
)

// Analytics event names
const (
	EventUploadStarted   = "wizard_upload_started"
	EventUploadCompleted = "wizard_upload_completed"
	EventUploadFailed    = "wizard_upload_failed"
	EventUploadCanceled  = "wizard_upload_canceled"
)

// NewAnalyticsTracker returns the default analytics tracker with properties attached to every event.
func NewAnalyticsTracker(logger log.Logger, properties analytics.Properties) analytics.Tracker {
	return analytics.NewDefaultTracker(logger, properties)
}

// uploadTracker sends upload lifecycle events. A nil analytics.Tracker disables it.
type uploadTracker struct {
	tracker analytics.Tracker
}

func (t uploadTracker) logStarted(kind string, size int64, attempt int) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(EventUploadStarted, analytics.Properties{
		"kind":              kind,
		"upload_size_bytes": size,
		"attempt":           attempt,
	})
}

func (t uploadTracker) logCompleted(kind string, size int64, uploadTime time.Duration) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(EventUploadCompleted, analytics.Properties{
		"kind":              kind,
		"upload_size_bytes": size,
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
	})
}

func (t uploadTracker) logFailed(kind string, size int64, failure progress.FailureKind) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(EventUploadFailed, analytics.Properties{
		"kind":              kind,
		"upload_size_bytes": size,
		"failure":           string(failure),
	})
}

func (t uploadTracker) logCanceled(kind string, size int64, loaded int64) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(EventUploadCanceled, analytics.Properties{
		"kind":              kind,
		"upload_size_bytes": size,
		"loaded_bytes":      loaded,
	})
}

func (t uploadTracker) wait() {
	if t.tracker != nil {
		t.tracker.Wait()
	}
}
