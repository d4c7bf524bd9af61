package chunkuploader

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// SeekerChunkProvider reads fixed size parts from a seekable source.
// Safe for parallel part reads.
type SeekerChunkProvider struct {
	src           io.ReadSeeker
	chunkSize     int64
	lastChunkSize int64
	numChunks     int
	mu            sync.Mutex
}

// NewSeekerChunkProvider splits a source of totalSize bytes into numChunks parts of chunkSize
// bytes, the last part holding the remainder.
func NewSeekerChunkProvider(src io.ReadSeeker, totalSize, chunkSize int64, numChunks int) (*SeekerChunkProvider, error) {
	if numChunks <= 0 {
		return nil, fmt.Errorf("invalid part count: %d", numChunks)
	}
	if chunkSize <= 0 {
		if numChunks != 1 {
			return nil, fmt.Errorf("part size is required for %d parts", numChunks)
		}
		chunkSize = totalSize
	}
	lastChunkSize := totalSize - int64(numChunks-1)*chunkSize
	if lastChunkSize <= 0 || lastChunkSize > chunkSize {
		return nil, fmt.Errorf("%d bytes cannot be split into %d parts of %d bytes", totalSize, numChunks, chunkSize)
	}

	return &SeekerChunkProvider{
		src:           src,
		chunkSize:     chunkSize,
		lastChunkSize: lastChunkSize,
		numChunks:     numChunks,
	}, nil
}

// NumChunks ...
func (p *SeekerChunkProvider) NumChunks() int {
	return p.numChunks
}

// ChunkSize ...
func (p *SeekerChunkProvider) ChunkSize(index int) int64 {
	if index == p.numChunks-1 {
		return p.lastChunkSize
	}
	return p.chunkSize
}

// GetChunk reads the part into memory so it can be resent.
func (p *SeekerChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= p.numChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.numChunks)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	offset := int64(index) * p.chunkSize
	if _, err := p.src.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d for chunk %d: %w", offset, index+1, err)
	}

	chunk := make([]byte, p.ChunkSize(index))
	n, err := io.ReadFull(p.src, chunk)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read chunk %d: %w", index+1, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("unexpected end of file at chunk %d", index+1)
	}

	return bytes.NewReader(chunk[:n]), nil
}
