package chunkuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader handles parallel part uploads with retry and hung detection.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	config = config.withDefaults()
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
	}
}

// Upload uploads all parts from the provider to the given URLs in parallel and returns the ETags
// in URL order. onProgress, if set, receives the number of bytes sent so far across all parts.
// The first failing part aborts the remaining ones.
func (u *Uploader) Upload(ctx context.Context, provider ChunkProvider, urls []PartURL, onProgress ProgressFunc) (*UploadResult, error) {
	numChunks := provider.NumChunks()
	if numChunks != len(urls) {
		return nil, fmt.Errorf("chunk count mismatch: provider has %d chunks, but %d URLs provided", numChunks, len(urls))
	}

	if numChunks == 0 {
		return &UploadResult{ETags: []string{}}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := newProgressCounter(numChunks, onProgress)
	resultChan := make(chan ChunkResult, numChunks)
	semaphore := make(chan struct{}, u.config.Concurrency)

	for i := 0; i < numChunks; i++ {
		go func(index int, url PartURL) {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				resultChan <- ChunkResult{Index: index, Err: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			etag, err := u.uploadChunkWithRetry(ctx, provider, url, index, numChunks, progress)
			resultChan <- ChunkResult{
				Index: index,
				ETag:  etag,
				Err:   err,
			}
		}(i, urls[i])
	}

	etags := make([]string, numChunks)
	for completed := 0; completed < numChunks; completed++ {
		result := <-resultChan
		if result.Err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("upload cancelled while waiting for chunks: %w", ctx.Err())
			}
			return nil, fmt.Errorf("chunk %d failed after %d attempts: %w",
				result.Index+1, u.config.MaxRetryPerChunk, result.Err)
		}
		etags[result.Index] = result.ETag
	}

	return &UploadResult{ETags: etags}, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	u.httpClient.CloseIdleConnections()
}

func (u *Uploader) uploadChunkWithRetry(ctx context.Context, provider ChunkProvider, url PartURL, index, totalChunks int, progress *progressCounter) (string, error) {
	var uploadErr error

	for attempt := 0; attempt < u.config.MaxRetryPerChunk; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("chunk %d upload cancelled: %w", index+1, err)
		}

		u.logger.Debugf("Uploading chunk %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			index+1, totalChunks, attempt+1, u.config.MaxRetryPerChunk,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Second))

		start := time.Now()
		chunkCtx, cancelChunk := context.WithCancel(ctx)

		// no hung detection on the last attempt
		if attempt < u.config.MaxRetryPerChunk-1 && u.config.HungThreshold > 0 {
			go u.detectHungUpload(chunkCtx, cancelChunk, start, index)
		}

		var etag string
		etag, uploadErr = u.uploadChunk(chunkCtx, provider, url, index, progress)
		cancelChunk()

		if uploadErr == nil {
			took := time.Since(start)
			u.stats.Update(took)
			u.logger.Debugf("Chunk %d uploaded in %v, ETag: %s", index+1, took.Round(time.Millisecond), etag)
			return etag, nil
		}

		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("chunk %d upload cancelled: %w", index+1, err)
		}
		progress.set(index, 0)
		u.logger.Warnf("Chunk %d attempt %d failed: %v", index+1, attempt+1, uploadErr)

		if attempt < u.config.MaxRetryPerChunk-1 {
			backoff := time.Duration(attempt+1) * u.config.RetryBackoff
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("chunk %d upload cancelled: %w", index+1, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("upload chunk %d: %w", index+1, uploadErr)
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung chunk upload (chunk %d); canceling request after %s (avg: %s)",
						index+1, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

func (u *Uploader) uploadChunk(ctx context.Context, provider ChunkProvider, url PartURL, index int, progress *progressCounter) (string, error) {
	reader, err := provider.GetChunk(index)
	if err != nil {
		return "", fmt.Errorf("get chunk %d: %w", index+1, err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read chunk %d: %w", index+1, err)
	}

	body := &countingReader{
		r: bytes.NewReader(data),
		onRead: func(n int64) {
			progress.set(index, n)
		},
	}
	method := url.Method
	if method == "" {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, url.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range url.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(data))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("chunk upload cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(errorBody[:n]))
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("no ETag in response")
	}

	return etag, nil
}

type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.onRead(c.n)
	}
	return n, err
}
