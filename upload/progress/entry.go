package progress

// Status of an upload entry.
type Status string

// Statuses
const (
	StatusRunning   Status = "running"
	StatusCanceled  Status = "canceled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal ...
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusCompleted || s == StatusFailed
}

// FailureKind tells a failed transfer apart from a destination that could not be obtained and
// from bytes that reached the server but were never acknowledged.
type FailureKind string

// Failure kinds
const (
	FailureNone            FailureKind = ""
	FailureDestination     FailureKind = "destination"
	FailureTransfer        FailureKind = "transfer"
	FailureAcknowledgement FailureKind = "acknowledgement"
)

// FileInfo describes the uploaded file.
type FileInfo struct {
	Name string
	Size int64
}

// Entry is an immutable snapshot of one upload.
type Entry struct {
	ID          string
	File        FileInfo
	LoadedBytes int64
	// TotalBytes is the file size, fixed when the entry is added.
	TotalBytes int64
	Status     Status
	// BrowserDependent is set when the upload dies with the hosting process.
	BrowserDependent bool
	// Attempt is 1 for the first run of an id and grows with every retry.
	Attempt     int
	Message     string
	FailureKind FailureKind

	cancelable bool
	retryable  bool
}

// Cancelable reports whether Registry.Cancel would abort a transfer.
func (e Entry) Cancelable() bool {
	return e.cancelable && e.Status == StatusRunning
}

// Retryable reports whether Registry.Retry would restart the upload.
func (e Entry) Retryable() bool {
	return e.retryable && (e.Status == StatusCanceled || e.Status == StatusFailed)
}

// Event is a change reported for an entry: Progressed, Completed, Failed or Canceled.
type Event interface {
	isEvent()
}

// Progressed reports the bytes sent so far. Total is informational, the entry keeps the size it
// was added with.
type Progressed struct {
	Loaded int64
	Total  int64
}

// Completed reports a finished upload.
type Completed struct{}

// Failed reports a failed upload.
type Failed struct {
	Message string
	Kind    FailureKind
}

// Canceled reports an aborted upload.
type Canceled struct{}

func (Progressed) isEvent() {}
func (Completed) isEvent()  {}
func (Failed) isEvent()     {}
func (Canceled) isEvent()   {}

// Reduce returns the entry after event and whether anything changed. Only Running entries change:
// a terminal status stays until the entry is added again. Loaded bytes never decrease and never
// exceed TotalBytes, so reapplying an update is a no-op.
func Reduce(e Entry, event Event) (Entry, bool) {
	if e.Status != StatusRunning {
		return e, false
	}

	switch ev := event.(type) {
	case Progressed:
		loaded := ev.Loaded
		if loaded > e.TotalBytes {
			loaded = e.TotalBytes
		}
		if loaded <= e.LoadedBytes {
			return e, false
		}
		e.LoadedBytes = loaded
	case Completed:
		e.Status = StatusCompleted
		e.LoadedBytes = e.TotalBytes
	case Failed:
		e.Status = StatusFailed
		e.Message = ev.Message
		e.FailureKind = ev.Kind
		if e.FailureKind == FailureNone {
			e.FailureKind = FailureTransfer
		}
	case Canceled:
		e.Status = StatusCanceled
	default:
		return e, false
	}

	return e, true
}
