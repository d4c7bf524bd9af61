package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu       sync.Mutex
	dest     network.Destination
	err      error
	panics   bool
	started  chan struct{}
	release  chan struct{}
	requests []network.DestinationRequest
}

func (g *fakeGenerator) GenerateDestination(ctx context.Context, req network.DestinationRequest) (network.Destination, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.started != nil {
		close(g.started)
	}
	if g.release != nil {
		<-g.release
	}
	if g.panics {
		panic("boom")
	}
	return g.dest, g.err
}

var (
	testFile  = blob.FromBytes("rows.csv", []byte("a,b\n"))
	otherFile = blob.FromBytes("other.csv", []byte("c,d,e\n"))
	testDest  = network.Destination{ID: "d1", Target: network.UploadURL{URL: "https://storage.example.com/d1"}}
)

func statesByPhase() map[Phase]State {
	return map[Phase]State{
		PhaseStart:        Start{},
		PhaseFileMissing:  FileMissing{},
		PhaseFileSelected: FileSelected{File: testFile},
		PhaseError:        Failed{File: testFile, Message: MessageUnknown, Err: errors.New("x")},
		PhaseSuccess:      Succeeded{File: testFile, Destination: testDest},
	}
}

func allEvents() []Event {
	return []Event{
		SelectFile{File: otherFile},
		MissingFile{},
		GenerateDestination{},
		Reset{},
	}
}

func TestMachine_Totality(t *testing.T) {
	for phase, state := range statesByPhase() {
		for _, event := range allEvents() {
			t.Run(fmt.Sprintf("%s on %s", event.Type(), phase), func(t *testing.T) {
				m := New(&fakeGenerator{dest: testDest}, log.NewLogger())
				m.state = state

				got, err := m.Send(context.Background(), event)

				target, ok := ValidTransitions[phase][event.Type()]
				if !ok {
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrInvalidTransition))
					var transitionErr *TransitionError
					require.True(t, errors.As(err, &transitionErr))
					assert.Equal(t, phase, transitionErr.From)
					assert.Equal(t, event.Type(), transitionErr.Event)
					assert.Equal(t, state, got)
					assert.Equal(t, state, m.State())
					return
				}

				require.NoError(t, err)
				if target == PhaseGeneratingDestination {
					target = PhaseSuccess
				}
				assert.Equal(t, target, got.Phase())
				assert.Equal(t, got, m.State())
			})
		}
	}
}

func TestMachine_HappyPath(t *testing.T) {
	generator := &fakeGenerator{dest: testDest}
	m := New(generator, log.NewLogger())
	assert.Equal(t, Start{}, m.State())

	state, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)
	assert.Equal(t, FileSelected{File: testFile}, state)

	state, err = m.Send(context.Background(), GenerateDestination{Request: network.DestinationRequest{Kind: "dataset", ContentType: "text/csv"}})
	require.NoError(t, err)
	assert.Equal(t, Succeeded{File: testFile, Destination: testDest}, state)

	require.Len(t, generator.requests, 1)
	assert.Equal(t, network.DestinationRequest{
		Kind:        "dataset",
		FileName:    "rows.csv",
		ContentType: "text/csv",
		SizeBytes:   4,
	}, generator.requests[0])

	state, err = m.Send(context.Background(), Reset{})
	require.NoError(t, err)
	assert.Equal(t, Start{}, state)
}

func TestMachine_ReplaceSelectedFile(t *testing.T) {
	m := New(&fakeGenerator{}, log.NewLogger())

	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)
	state, err := m.Send(context.Background(), SelectFile{File: otherFile})
	require.NoError(t, err)

	assert.Equal(t, FileSelected{File: otherFile}, state)
}

func TestMachine_MissingFile(t *testing.T) {
	m := New(&fakeGenerator{}, log.NewLogger())

	state, err := m.Send(context.Background(), MissingFile{})
	require.NoError(t, err)
	assert.Equal(t, PhaseFileMissing, state.Phase())

	state, err = m.Send(context.Background(), SelectFile{})
	assert.True(t, errors.Is(err, ErrNoFileSelected))
	assert.Equal(t, FileMissing{}, state)

	state, err = m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)
	assert.Equal(t, FileSelected{File: testFile}, state)
}

func TestMachine_GenerateDestination_Offline(t *testing.T) {
	offline := fmt.Errorf("%w: dial tcp: lookup api.example.com: no such host", network.ErrOffline)
	generator := &fakeGenerator{err: offline}
	m := New(generator, log.NewLogger())
	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)

	state, err := m.Send(context.Background(), GenerateDestination{})

	require.NoError(t, err)
	failed, ok := state.(Failed)
	require.True(t, ok)
	assert.Equal(t, MessageOffline, failed.Message)
	assert.Equal(t, testFile, failed.File)
	assert.True(t, errors.Is(failed.Err, network.ErrOffline))
}

func TestMachine_RetryFromError(t *testing.T) {
	generator := &fakeGenerator{err: &network.ResponseError{StatusCode: 500}}
	m := New(generator, log.NewLogger())
	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)

	state, err := m.Send(context.Background(), GenerateDestination{})
	require.NoError(t, err)
	require.Equal(t, PhaseError, state.Phase())

	generator.err = nil
	generator.dest = testDest
	state, err = m.Send(context.Background(), GenerateDestination{})
	require.NoError(t, err)
	assert.Equal(t, Succeeded{File: testFile, Destination: testDest}, state)
	assert.Len(t, generator.requests, 2)
}

func TestMachine_BusyWhileGenerating(t *testing.T) {
	generator := &fakeGenerator{
		dest:    testDest,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := New(generator, log.NewLogger())
	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)

	done := make(chan State)
	go func() {
		state, _ := m.Send(context.Background(), GenerateDestination{})
		done <- state
	}()
	<-generator.started

	assert.Equal(t, PhaseGeneratingDestination, m.State().Phase())
	for _, event := range allEvents() {
		_, err := m.Send(context.Background(), event)
		assert.True(t, errors.Is(err, ErrBusy), event.Type())
	}

	close(generator.release)
	assert.Equal(t, PhaseSuccess, (<-done).Phase())
}

func TestMachine_GeneratorPanics(t *testing.T) {
	m := New(&fakeGenerator{panics: true}, log.NewLogger())
	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)

	state, err := m.Send(context.Background(), GenerateDestination{})

	require.NoError(t, err)
	failed, ok := state.(Failed)
	require.True(t, ok)
	assert.Equal(t, MessageUnknown, failed.Message)
}

func TestMachine_NoGenerator(t *testing.T) {
	m := New(nil, log.NewLogger())
	_, err := m.Send(context.Background(), SelectFile{File: testFile})
	require.NoError(t, err)

	state, err := m.Send(context.Background(), GenerateDestination{})

	require.NoError(t, err)
	assert.Equal(t, PhaseError, state.Phase())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, MessageUnknown},
		{"offline", fmt.Errorf("generate: %w", network.ErrOffline), MessageOffline},
		{"no response", fmt.Errorf("%w: EOF", network.ErrNoResponse), MessageServerUnavailable},
		{"server message", &network.ResponseError{StatusCode: 422, Message: "Dataset name already taken"}, "Dataset name already taken"},
		{"status only", &network.ResponseError{StatusCode: 500, Body: "oops"}, "The request failed (500 Internal Server Error)."},
		{"unknown status", &network.ResponseError{StatusCode: 599}, "The request failed (599)."},
		{"wrapped response", fmt.Errorf("generate: %w", &network.ResponseError{StatusCode: 403, Message: "Forbidden dataset"}), "Forbidden dataset"},
		{"canceled", context.Canceled, MessageUnknown},
		{"other", errors.New("something odd"), MessageUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorMessage(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(PhaseError, EventGenerateDestination))
	assert.True(t, CanTransition(PhaseFileSelected, EventGenerateDestination))
	assert.False(t, CanTransition(PhaseStart, EventGenerateDestination))
	assert.False(t, CanTransition(PhaseSuccess, EventGenerateDestination))
	assert.False(t, CanTransition(PhaseGeneratingDestination, EventReset))
}
