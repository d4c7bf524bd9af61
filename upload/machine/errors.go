package machine

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bitrise-io/wizard-uploads/upload/network"
)

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned for events sent while a destination is being generated.
	ErrBusy = errors.New("destination generation in progress")
	// ErrNoFileSelected is returned when SelectFile carries no file.
	ErrNoFileSelected = errors.New("no file selected")
)

// TransitionError is an event the current phase does not accept.
type TransitionError struct {
	From  Phase
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s does not accept %s", e.From, e.Event)
}

// Unwrap ...
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// User facing messages of failed requests.
const (
	MessageOffline           = "You appear to be offline. Check your connection and try again."
	MessageServerUnavailable = "The server is unavailable. Try again later."
	MessageRequestFailed     = "The request failed"
	MessageUnknown           = "An unknown error occurred. Try again."
)

// ErrorMessage derives the message shown for a failed request. Every error, nil included, maps to
// a non-empty message.
func ErrorMessage(err error) string {
	var respErr *network.ResponseError
	switch {
	case err == nil:
		return MessageUnknown
	case errors.Is(err, network.ErrOffline):
		return MessageOffline
	case errors.Is(err, network.ErrNoResponse):
		return MessageServerUnavailable
	case errors.As(err, &respErr):
		if respErr.Message != "" {
			return respErr.Message
		}
		if text := http.StatusText(respErr.StatusCode); text != "" {
			return fmt.Sprintf("%s (%d %s).", MessageRequestFailed, respErr.StatusCode, text)
		}
		return fmt.Sprintf("%s (%d).", MessageRequestFailed, respErr.StatusCode)
	default:
		return MessageUnknown
	}
}
