package machine

import (
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/network"
)

// Phase names the active state of an upload attempt.
type Phase string

// Phases
const (
	PhaseStart                 Phase = "start"
	PhaseFileMissing           Phase = "file_missing"
	PhaseFileSelected          Phase = "file_selected"
	PhaseGeneratingDestination Phase = "generating_destination"
	PhaseError                 Phase = "error"
	PhaseSuccess               Phase = "success"
)

// State is one of Start, FileMissing, FileSelected, GeneratingDestination, Failed or Succeeded.
// Fields only exist on the states they are valid in.
type State interface {
	Phase() Phase
	isState()
}

// Start is the initial state with an empty context.
type Start struct{}

// FileMissing is entered when the user tried to continue without a file.
type FileMissing struct{}

// FileSelected holds the chosen file.
type FileSelected struct {
	File blob.File
}

// GeneratingDestination waits for the destination generator.
type GeneratingDestination struct {
	File    blob.File
	Request network.DestinationRequest
}

// Failed holds the user facing message of a failed destination generation.
type Failed struct {
	File    blob.File
	Message string
	Err     error
}

// Succeeded holds the generated destination.
type Succeeded struct {
	File        blob.File
	Destination network.Destination
}

func (Start) Phase() Phase                 { return PhaseStart }
func (FileMissing) Phase() Phase           { return PhaseFileMissing }
func (FileSelected) Phase() Phase          { return PhaseFileSelected }
func (GeneratingDestination) Phase() Phase { return PhaseGeneratingDestination }
func (Failed) Phase() Phase                { return PhaseError }
func (Succeeded) Phase() Phase             { return PhaseSuccess }

func (Start) isState()                 {}
func (FileMissing) isState()           {}
func (FileSelected) isState()          {}
func (GeneratingDestination) isState() {}
func (Failed) isState()                {}
func (Succeeded) isState()             {}

// EventType names an event.
type EventType string

// Event types
const (
	EventFileSelected        EventType = "FILE_SELECTED"
	EventFileMissing         EventType = "FILE_MISSING"
	EventGenerateDestination EventType = "GENERATE_DESTINATION"
	EventReset               EventType = "RESET"
)

// Event is one of SelectFile, MissingFile, GenerateDestination or Reset.
type Event interface {
	Type() EventType
}

// SelectFile selects (or replaces) the file.
type SelectFile struct {
	File blob.File
}

// MissingFile reports an attempt to continue without a file.
type MissingFile struct{}

// GenerateDestination requests a write target for the selected file. Empty FileName and
// SizeBytes are filled from the file.
type GenerateDestination struct {
	Request network.DestinationRequest
}

// Reset returns to Start.
type Reset struct{}

func (SelectFile) Type() EventType          { return EventFileSelected }
func (MissingFile) Type() EventType         { return EventFileMissing }
func (GenerateDestination) Type() EventType { return EventGenerateDestination }
func (Reset) Type() EventType               { return EventReset }

// ValidTransitions lists the target phase of every accepted event per phase. Any pair missing
// from the table is rejected.
var ValidTransitions = map[Phase]map[EventType]Phase{
	PhaseStart: {
		EventFileMissing:  PhaseFileMissing,
		EventFileSelected: PhaseFileSelected,
	},
	PhaseFileMissing: {
		EventFileSelected: PhaseFileSelected,
		EventReset:        PhaseStart,
	},
	PhaseFileSelected: {
		EventFileSelected:        PhaseFileSelected,
		EventGenerateDestination: PhaseGeneratingDestination,
		EventReset:               PhaseStart,
	},
	PhaseGeneratingDestination: {},
	PhaseError: {
		EventFileSelected:        PhaseFileSelected,
		EventGenerateDestination: PhaseGeneratingDestination,
		EventReset:               PhaseStart,
	},
	PhaseSuccess: {
		EventReset: PhaseStart,
	},
}

// CanTransition reports whether event is accepted in phase.
func CanTransition(from Phase, event EventType) bool {
	_, ok := ValidTransitions[from][event]
	return ok
}
