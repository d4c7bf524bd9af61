// Package chunkuploader uploads a file as ordered parts to pre-signed part URLs, in parallel,
// with per-part retries, hung request detection and aggregated byte progress.
package chunkuploader

import (
	"io"
)

// PartURL is a signed URL for uploading a single part.
type PartURL struct {
	Method  string
	URL     string
	Headers map[string]string
}

// ChunkProvider provides part data for upload.
type ChunkProvider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// GetChunk returns a reader for the chunk at the given index.
	// For retries, GetChunk may be called multiple times for the same index.
	GetChunk(index int) (io.Reader, error)
}

// ProgressFunc receives the total number of bytes sent across all parts.
type ProgressFunc func(sent int64)

// ChunkResult represents the result of uploading a single chunk.
type ChunkResult struct {
	Index int
	ETag  string
	Err   error
}

// UploadResult holds the part ETags in part order.
type UploadResult struct {
	ETags []string
}
