package upload

import (
	"context"
	"sync"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/network"
)

type putFunc func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error)

type fakeTransport struct {
	mu               sync.Mutex
	browserDependent bool
	puts             []putFunc
	dests            []network.Destination
}

// Put runs the next queued put, repeating the last one when the queue is exhausted.
func (f *fakeTransport) Put(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
	f.mu.Lock()
	call := len(f.dests)
	f.dests = append(f.dests, dest)
	put := f.puts[len(f.puts)-1]
	if call < len(f.puts) {
		put = f.puts[call]
	}
	f.mu.Unlock()

	return put(ctx, dest, file, onProgress)
}

func (f *fakeTransport) BrowserDependent() bool {
	return f.browserDependent
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dests)
}

type fakeGenerator struct {
	mu       sync.Mutex
	errs     []error
	requests []network.DestinationRequest
}

func (g *fakeGenerator) GenerateDestination(ctx context.Context, req network.DestinationRequest) (network.Destination, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	if call < len(g.errs) && g.errs[call] != nil {
		return network.Destination{}, g.errs[call]
	}
	return network.Destination{
		ID:     req.FileName,
		Target: network.UploadURL{URL: "https://storage.example.com/" + req.FileName},
	}, nil
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	err   error
	dests []network.Destination
}

func (a *fakeAcknowledger) Acknowledge(ctx context.Context, dest network.Destination, receipt network.Receipt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dests = append(a.dests, dest)
	return a.err
}

type notificationRecorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *notificationRecorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *notificationRecorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []string
	props  []analytics.Properties
	waited bool
}

func (a *fakeAnalytics) Enqueue(eventName string, properties ...analytics.Properties) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventName)
	a.props = append(a.props, properties...)
}

func (a *fakeAnalytics) Wait() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.waited = true
}

func succeed(progress ...int64) putFunc {
	return func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
		for _, loaded := range progress {
			onProgress(loaded, file.Size)
		}
		return network.Receipt{}, nil
	}
}

func fail(err error) putFunc {
	return func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
		return network.Receipt{}, err
	}
}

// blockUntilCanceled reports loaded bytes, signals started and returns err once ctx is done.
func blockUntilCanceled(loaded int64, started chan<- struct{}, err error) putFunc {
	return func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
		onProgress(loaded, file.Size)
		close(started)
		<-ctx.Done()
		return network.Receipt{}, err
	}
}

// settleLate signals started, then waits until ctx is done and release is closed before it
// reports loaded bytes and returns err.
func settleLate(loaded int64, started chan<- struct{}, release <-chan struct{}, err error) putFunc {
	return func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
		close(started)
		<-ctx.Done()
		<-release
		onProgress(loaded, file.Size)
		return network.Receipt{}, err
	}
}

// succeedAfter waits for proceed before it succeeds.
func succeedAfter(proceed <-chan struct{}) putFunc {
	return func(ctx context.Context, dest network.Destination, file blob.File, onProgress network.ProgressFunc) (network.Receipt, error) {
		select {
		case <-proceed:
		case <-ctx.Done():
			return network.Receipt{}, network.ErrCanceled
		}
		onProgress(file.Size, file.Size)
		return network.Receipt{}, nil
	}
}
