// Package upload coordinates uploads: it obtains destinations, runs transfers in the background,
// keeps the progress registry current and tells the user how each upload ended.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/machine"
	"github.com/bitrise-io/wizard-uploads/upload/network"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
	"github.com/bitrise-io/wizard-uploads/upload/throttle"
	"github.com/google/uuid"
)

// MessageNotRegistered is shown when the bytes were stored but the acknowledgement failed.
const MessageNotRegistered = "The file was uploaded but could not be registered. Upload it again."

// ErrNoDestination is returned by StartFromMachine before a destination was generated.
var ErrNoDestination = errors.New("no destination generated")

// Meta describes what an upload is for.
type Meta struct {
	// ID reuses a caller supplied id instead of generating one.
	ID          string
	Kind        string
	ContentType string
	Attributes  map[string]string
}

// Params ...
type Params struct {
	Registry *progress.Registry
	// Generator is used when Start is called without a destination.
	Generator network.DestinationGenerator
	Transport network.Transport
	// Acknowledger is optional.
	Acknowledger network.Acknowledger
	// Notifier defaults to a LogNotifier.
	Notifier Notifier
	// Analytics is optional.
	Analytics analytics.Tracker
	// ProgressInterval defaults to throttle.DefaultInterval; negative disables throttling.
	ProgressInterval time.Duration
}

type job struct {
	parent context.Context
	file   blob.File
	meta   Meta
	// dest is reused by every attempt when it was supplied by the caller.
	dest    network.Destination
	hasDest bool
}

// Orchestrator starts uploads and settles them in the registry.
type Orchestrator struct {
	registry  *progress.Registry
	generator network.DestinationGenerator
	transport network.Transport
	ack       network.Acknowledger
	notifier  Notifier
	tracker   uploadTracker
	interval  time.Duration
	logger    log.Logger
	newID     func() string

	mu   sync.Mutex
	jobs map[string]job
	wg   sync.WaitGroup
}

// New ...
func New(params Params, logger log.Logger) (*Orchestrator, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("registry must not be nil")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("transport must not be nil")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	interval := params.ProgressInterval
	if interval == 0 {
		interval = throttle.DefaultInterval
	}

	return &Orchestrator{
		registry:  params.Registry,
		generator: params.Generator,
		transport: params.Transport,
		ack:       params.Acknowledger,
		notifier:  notifier,
		tracker:   uploadTracker{tracker: params.Analytics},
		interval:  interval,
		logger:    logger,
		newID:     uuid.NewString,
		jobs:      map[string]job{},
	}, nil
}

// Start uploads file in the background, generating its destination first, and returns the
// upload id right away. The upload runs until ctx is done, it is canceled, or it settles.
func (o *Orchestrator) Start(ctx context.Context, file blob.File, meta Meta) (string, error) {
	if o.generator == nil {
		return "", fmt.Errorf("no destination generator configured")
	}
	return o.start(ctx, job{parent: ctx, file: file, meta: meta})
}

// StartWithDestination uploads file to an already known destination.
func (o *Orchestrator) StartWithDestination(ctx context.Context, file blob.File, dest network.Destination, meta Meta) (string, error) {
	return o.start(ctx, job{parent: ctx, file: file, meta: meta, dest: dest, hasDest: true})
}

// StartFromMachine uploads the file of a machine that reached Succeeded and resets the machine.
func (o *Orchestrator) StartFromMachine(ctx context.Context, m *machine.Machine, meta Meta) (string, error) {
	succeeded, ok := m.State().(machine.Succeeded)
	if !ok {
		return "", fmt.Errorf("machine is in %s: %w", m.State().Phase(), ErrNoDestination)
	}

	id, err := o.StartWithDestination(ctx, succeeded.File, succeeded.Destination, meta)
	if err != nil {
		return "", err
	}
	if _, err := m.Send(ctx, machine.Reset{}); err != nil {
		o.logger.Warnf("Failed to reset upload form: %s", err)
	}
	return id, nil
}

// Cancel aborts the upload of id.
func (o *Orchestrator) Cancel(id string) error {
	return o.registry.Cancel(id)
}

// Retry starts a canceled or failed upload again under the same id.
func (o *Orchestrator) Retry(id string) error {
	return o.registry.Retry(id)
}

// Dismiss removes the upload of id, canceling it if it still runs. A dismissed attempt that
// settles late is ignored, also when id is started again.
func (o *Orchestrator) Dismiss(id string) error {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
	return o.registry.Remove(id)
}

// Wait blocks until every started upload settled and pending analytics events were sent.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	o.tracker.wait()
}

func (o *Orchestrator) start(ctx context.Context, j job) (string, error) {
	if j.file.IsZero() {
		return "", machine.ErrNoFileSelected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := j.meta.ID
	if id == "" {
		id = o.newID()
	}

	o.mu.Lock()
	prev, hadPrev := o.jobs[id]
	o.jobs[id] = j
	o.mu.Unlock()

	if err := o.launch(id, j, 0); err != nil {
		o.mu.Lock()
		if hadPrev {
			o.jobs[id] = prev
		} else {
			delete(o.jobs, id)
		}
		o.mu.Unlock()
		return "", err
	}

	return id, nil
}

// restart is the retry capability of every entry. It replaces exactly the attempt being retried,
// so it cannot revive a dismissed upload or clobber a newer start of the same id.
func (o *Orchestrator) restart(id string, attempt int) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("restart %s: %w", id, progress.ErrNotFound)
	}
	return o.launch(id, j, attempt)
}

// launch registers a new attempt of id and runs it. A non-zero replaces restarts that attempt.
func (o *Orchestrator) launch(id string, j job, replaces int) error {
	ctx, cancel := context.WithCancel(j.parent)

	entry := progress.Entry{
		ID:               id,
		File:             progress.FileInfo{Name: j.file.Name, Size: j.file.Size},
		BrowserDependent: o.transport.BrowserDependent(),
	}
	caps := progress.Capabilities{
		Cancel: cancel,
		Retry:  func(attempt int) error { return o.restart(id, attempt) },
	}

	var attempt int
	var err error
	if replaces == 0 {
		attempt, err = o.registry.Add(entry, caps)
	} else {
		attempt, err = o.registry.Replace(entry, replaces, caps)
	}
	if err != nil {
		cancel()
		return err
	}

	o.tracker.logStarted(j.meta.Kind, j.file.Size, attempt)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(ctx, id, attempt, j)
	}()

	return nil
}

func (o *Orchestrator) run(ctx context.Context, id string, attempt int, j job) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.onFailure(id, attempt, j, progress.FailureTransfer, fmt.Errorf("upload panicked: %v", r))
		}
	}()

	dest := j.dest
	if !j.hasDest {
		generated, err := o.generator.GenerateDestination(ctx, network.DestinationRequest{
			Kind:        j.meta.Kind,
			FileName:    j.file.Name,
			ContentType: j.meta.ContentType,
			SizeBytes:   j.file.Size,
			Attributes:  j.meta.Attributes,
		})
		if err != nil {
			o.onFailure(id, attempt, j, progress.FailureDestination, fmt.Errorf("generate destination: %w", err))
			return
		}
		dest = generated
	}

	progressThrottle := throttle.New(o.interval, func(loaded, total int64) {
		o.onProgress(id, attempt, loaded, total)
	})
	receipt, err := o.transport.Put(ctx, dest, j.file, progressThrottle.Report)
	progressThrottle.Flush()
	if err != nil {
		o.onFailure(id, attempt, j, progress.FailureTransfer, err)
		return
	}

	if o.ack != nil {
		if err := o.ack.Acknowledge(ctx, dest, receipt); err != nil {
			o.onAcknowledgeFailure(id, attempt, j, err)
			return
		}
	}

	o.onSuccess(id, attempt, j, time.Since(startTime))
}

func (o *Orchestrator) onProgress(id string, attempt int, loaded, total int64) {
	o.registry.UpdateAttempt(id, attempt, progress.Progressed{Loaded: loaded, Total: total})
}

func (o *Orchestrator) onSuccess(id string, attempt int, j job, took time.Duration) {
	if !o.registry.UpdateAttempt(id, attempt, progress.Completed{}) {
		return
	}
	o.logger.Debugf("Upload %s of %s took %s", id, j.file.Name, took.Round(time.Millisecond))
	o.tracker.logCompleted(j.meta.Kind, j.file.Size, took)
	o.notifier.Notify(Notification{
		Level:    LevelSuccess,
		UploadID: id,
		FileName: j.file.Name,
		Size:     j.file.Size,
	})
}

// onFailure settles a failed attempt. A cancellation only changes the status; anything else is
// a retryable failure of kind the user is told about.
func (o *Orchestrator) onFailure(id string, attempt int, j job, kind progress.FailureKind, err error) {
	if network.IsCanceled(err) {
		o.settleCanceled(id, attempt, j)
		return
	}

	message := machine.ErrorMessage(err)
	if !o.registry.UpdateAttempt(id, attempt, progress.Failed{Message: message, Kind: kind}) {
		return
	}
	o.logger.Debugf("Upload %s failed (%s): %s", id, kind, err)
	o.tracker.logFailed(j.meta.Kind, j.file.Size, kind)
	o.notifier.Notify(Notification{
		Level:    LevelError,
		UploadID: id,
		FileName: j.file.Name,
		Size:     j.file.Size,
		Message:  fmt.Sprintf("Upload failed: %s", message),
	})
}

func (o *Orchestrator) onAcknowledgeFailure(id string, attempt int, j job, err error) {
	if network.IsCanceled(err) {
		o.settleCanceled(id, attempt, j)
		return
	}

	if !o.registry.UpdateAttempt(id, attempt, progress.Failed{Message: MessageNotRegistered, Kind: progress.FailureAcknowledgement}) {
		return
	}
	o.logger.Warnf("Upload %s was stored but not acknowledged: %s", id, err)
	o.tracker.logFailed(j.meta.Kind, j.file.Size, progress.FailureAcknowledgement)
	o.notifier.Notify(Notification{
		Level:    LevelWarning,
		UploadID: id,
		FileName: j.file.Name,
		Size:     j.file.Size,
		Message:  MessageNotRegistered,
	})
}

func (o *Orchestrator) settleCanceled(id string, attempt int, j job) {
	o.registry.UpdateAttempt(id, attempt, progress.Canceled{})
	entry, ok := o.registry.Get(id)
	if !ok || entry.Attempt != attempt {
		return
	}
	o.logger.Debugf("Upload %s canceled", id)
	o.tracker.logCanceled(j.meta.Kind, j.file.Size, entry.LoadedBytes)
}
