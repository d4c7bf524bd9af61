// Package machine drives a single upload attempt from file selection to an obtained destination.
package machine

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/network"
)

// Machine is the state machine of one upload slot. Events are processed one at a time; while a
// destination is being generated every event is refused with ErrBusy.
type Machine struct {
	mu        sync.Mutex
	state     State
	generator network.DestinationGenerator
	logger    log.Logger
}

// New returns a machine in Start.
func New(generator network.DestinationGenerator, logger log.Logger) *Machine {
	return &Machine{
		state:     Start{},
		generator: generator,
		logger:    logger,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send applies event and returns the resulting state. GenerateDestination blocks until the
// generator returns; a failed generation is not an error of Send but a Failed state carrying the
// message to show. Errors are only returned for refused events, the state is unchanged then.
func (m *Machine) Send(ctx context.Context, event Event) (State, error) {
	m.mu.Lock()
	current := m.state
	if _, ok := current.(GeneratingDestination); ok {
		m.mu.Unlock()
		return current, ErrBusy
	}

	next, ok := ValidTransitions[current.Phase()][event.Type()]
	if !ok {
		m.mu.Unlock()
		err := &TransitionError{From: current.Phase(), Event: event.Type()}
		m.logger.Warnf("%s", err)
		return current, err
	}

	switch ev := event.(type) {
	case SelectFile:
		if ev.File.IsZero() {
			m.mu.Unlock()
			return current, ErrNoFileSelected
		}
		m.state = FileSelected{File: ev.File}
	case MissingFile:
		m.state = FileMissing{}
	case Reset:
		m.state = Start{}
	case GenerateDestination:
		generating := GeneratingDestination{
			File:    selectedFile(current),
			Request: requestFor(ev.Request, selectedFile(current)),
		}
		m.state = generating
		m.mu.Unlock()
		m.logger.Debugf("Upload attempt: %s -> %s", current.Phase(), next)

		return m.generate(ctx, generating), nil
	default:
		m.mu.Unlock()
		return current, &TransitionError{From: current.Phase(), Event: event.Type()}
	}

	state := m.state
	m.mu.Unlock()
	m.logger.Debugf("Upload attempt: %s -> %s", current.Phase(), next)

	return state, nil
}

func (m *Machine) generate(ctx context.Context, generating GeneratingDestination) State {
	dest, err := m.callGenerator(ctx, generating.Request)

	var next State
	if err != nil {
		m.logger.Warnf("Failed to generate destination for %s: %s", generating.File.Name, err)
		next = Failed{
			File:    generating.File,
			Message: ErrorMessage(err),
			Err:     err,
		}
	} else {
		next = Succeeded{
			File:        generating.File,
			Destination: dest,
		}
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	m.logger.Debugf("Upload attempt: %s -> %s", PhaseGeneratingDestination, next.Phase())

	return next
}

// callGenerator keeps a panicking generator from leaving the machine stuck in GeneratingDestination.
func (m *Machine) callGenerator(ctx context.Context, req network.DestinationRequest) (dest network.Destination, err error) {
	if m.generator == nil {
		return network.Destination{}, fmt.Errorf("no destination generator configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination generator panicked: %v", r)
		}
	}()
	return m.generator.GenerateDestination(ctx, req)
}

func selectedFile(s State) blob.File {
	switch st := s.(type) {
	case FileSelected:
		return st.File
	case Failed:
		return st.File
	case GeneratingDestination:
		return st.File
	case Succeeded:
		return st.File
	}
	return blob.File{}
}

func requestFor(req network.DestinationRequest, file blob.File) network.DestinationRequest {
	if req.FileName == "" {
		req.FileName = file.Name
	}
	if req.SizeBytes == 0 {
		req.SizeBytes = file.Size
	}
	return req
}
