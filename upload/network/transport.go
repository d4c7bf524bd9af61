package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/network/chunkuploader"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPTransport PUTs file content to pre-signed URLs. Multipart destinations are uploaded part by
// part in parallel.
type HTTPTransport struct {
	client      *retryablehttp.Client
	chunkConfig chunkuploader.Config
	logger      log.Logger
}

// NewHTTPTransport ...
func NewHTTPTransport(client *retryablehttp.Client, chunkConfig chunkuploader.Config, logger log.Logger) *HTTPTransport {
	if client == nil {
		client = NewRetryableClient(logger)
	}
	return &HTTPTransport{
		client:      client,
		chunkConfig: chunkConfig,
		logger:      logger,
	}
}

// BrowserDependent is true: the transfer is driven from this process's memory.
func (t *HTTPTransport) BrowserDependent() bool {
	return true
}

// Put uploads file to dest.
func (t *HTTPTransport) Put(ctx context.Context, dest Destination, file blob.File, onProgress ProgressFunc) (Receipt, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	if dest.IsMultipart() {
		return t.putParts(ctx, dest, file, onProgress)
	}
	return Receipt{}, t.putSingle(ctx, dest.Target, file, onProgress)
}

func (t *HTTPTransport) putSingle(ctx context.Context, target UploadURL, file blob.File, onProgress ProgressFunc) error {
	content, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer func() {
		if err := content.Close(); err != nil {
			t.logger.Warnf("Failed to close %s: %s", file.Name, err)
		}
	}()

	// Called again for every retried attempt; the transfer restarts from the first byte.
	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		onProgress(0, file.Size)
		return &progressReader{r: content, onRead: func(n int64) { onProgress(n, file.Size) }}, nil
	})

	method := target.Method
	if method == "" {
		method = http.MethodPut
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return err
	}
	req.ContentLength = file.Size
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	t.logger.Debugf("Uploading %s (%d bytes) to %s", file.Name, file.Size, redactQuery(target.URL))

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Printf(err.Error())
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unwrapError(resp)
	}

	return nil
}

func (t *HTTPTransport) putParts(ctx context.Context, dest Destination, file blob.File, onProgress ProgressFunc) (Receipt, error) {
	content, err := file.Open()
	if err != nil {
		return Receipt{}, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer func() {
		if err := content.Close(); err != nil {
			t.logger.Warnf("Failed to close %s: %s", file.Name, err)
		}
	}()

	provider, err := chunkuploader.NewSeekerChunkProvider(content, file.Size, dest.ChunkSizeBytes, len(dest.Parts))
	if err != nil {
		return Receipt{}, fmt.Errorf("split %s: %w", file.Name, err)
	}

	urls := make([]chunkuploader.PartURL, len(dest.Parts))
	for i, part := range dest.Parts {
		urls[i] = chunkuploader.PartURL{
			Method:  part.Method,
			URL:     part.URL,
			Headers: part.Headers,
		}
	}

	t.logger.Debugf("Uploading %s in %d parts", file.Name, len(urls))

	uploader := chunkuploader.New(t.chunkConfig, t.logger)
	defer uploader.CloseIdleConnections()

	result, err := uploader.Upload(ctx, provider, urls, func(sent int64) {
		onProgress(sent, file.Size)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Receipt{}, classifyRequestError(ctx, err)
		}
		return Receipt{}, fmt.Errorf("upload parts: %w", err)
	}

	return Receipt{ETags: result.ETags}, nil
}

type progressReader struct {
	r      io.Reader
	n      int64
	onRead func(n int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.onRead(p.n)
	}
	return n, err
}

// redactQuery drops the signature part of a pre-signed URL before it is logged.
func redactQuery(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return base
}
