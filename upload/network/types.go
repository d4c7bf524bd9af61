package network

import (
	"context"

	"github.com/bitrise-io/wizard-uploads/upload/blob"
)

// UploadURL is one pre-authorized write target.
type UploadURL struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// Destination is where the bytes of one upload go. It is a single URL, or an ordered list of part
// URLs for a multipart upload, where each part but the last is ChunkSizeBytes long.
type Destination struct {
	// ID identifies the upload on the server; the acknowledgement refers to it.
	ID             string      `json:"id"`
	Target         UploadURL   `json:"target"`
	Parts          []UploadURL `json:"urls"`
	ChunkSizeBytes int64       `json:"chunk_size_bytes"`
	// ObjectKey and SizeBytes are set by storage backed destinations.
	ObjectKey string `json:"object_key,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// IsMultipart ...
func (d Destination) IsMultipart() bool {
	return len(d.Parts) > 1
}

// DestinationRequest describes the upload a destination is generated for.
type DestinationRequest struct {
	// Kind is the kind of resource the file belongs to (data, dataset, template, mine).
	Kind        string            `json:"kind"`
	FileName    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Receipt is what a finished transfer hands to the acknowledgement.
type Receipt struct {
	ETags []string
}

// ProgressFunc receives the number of bytes sent so far. Implementations must be safe for
// concurrent calls.
type ProgressFunc func(loaded, total int64)

// DestinationGenerator obtains a write target for an upload.
type DestinationGenerator interface {
	GenerateDestination(ctx context.Context, req DestinationRequest) (Destination, error)
}

// Acknowledger marks transferred bytes as finalized on the server.
type Acknowledger interface {
	Acknowledge(ctx context.Context, dest Destination, receipt Receipt) error
}

// Transport moves the bytes of a file to a destination. Canceling ctx aborts the transfer, which
// then fails with an error matching ErrCanceled.
type Transport interface {
	Put(ctx context.Context, dest Destination, file blob.File, onProgress ProgressFunc) (Receipt, error)
	// BrowserDependent reports whether the transfer dies with the hosting process.
	BrowserDependent() bool
}
