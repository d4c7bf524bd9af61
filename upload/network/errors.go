package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrOffline means the request never left this machine: no route or no name resolution.
	ErrOffline = errors.New("client is offline")
	// ErrNoResponse means the request was sent but no HTTP response came back.
	ErrNoResponse = errors.New("no response from server")
	// ErrCanceled marks a transfer aborted by its caller. Its text is the cancellation sentinel.
	ErrCanceled = errors.New("Canceled")
	// ErrObjectNotFound means the acknowledged object is not present in storage.
	ErrObjectNotFound = errors.New("uploaded object not found")
)

// ResponseError is a non-successful HTTP response.
type ResponseError struct {
	StatusCode int
	// Message is the server supplied message field, if the body carried one.
	Message string
	Body    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsCanceled reports whether err is a caller initiated abort.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("%w: read response body: %w", ErrNoResponse, err)
	}

	respErr := &ResponseError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		respErr.Message = payload.Message
		if respErr.Message == "" {
			respErr.Message = payload.Error
		}
	}
	return respErr
}

// classifyRequestError maps a failed round trip (no response at hand) onto the failure shapes
// callers distinguish.
func classifyRequestError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if isOffline(err) {
		return fmt.Errorf("%w: %w", ErrOffline, err)
	}
	return fmt.Errorf("%w: %w", ErrNoResponse, err)
}

func isOffline(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETDOWN)
}
