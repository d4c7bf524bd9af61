package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

type acknowledgeRequest struct {
	Successful bool     `json:"successful"`
	Etags      []string `json:"etags"`
}

type acknowledgeResponse struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// APIClient talks to the backend REST API: it generates destinations and acknowledges
// finished uploads.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient returns a client for baseURL. httpClient may be nil, then a retrying client
// logging through logger is created.
func NewAPIClient(httpClient *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *APIClient {
	if httpClient == nil {
		httpClient = NewRetryableClient(logger)
	}
	return &APIClient{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// NewRetryableClient returns the retrying HTTP client used for API calls and transfers. Responses
// are handed back after the last attempt so their status and body can be inspected.
func NewRetryableClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// GenerateDestination asks the backend for a write target.
func (c *APIClient) GenerateDestination(ctx context.Context, request DestinationRequest) (Destination, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return Destination{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", body)
	if err != nil {
		return Destination{}, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Destination{}, classifyRequestError(ctx, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Destination{}, unwrapError(resp)
	}

	var dest Destination
	if err := json.NewDecoder(resp.Body).Decode(&dest); err != nil {
		return Destination{}, fmt.Errorf("decode destination: %w", err)
	}
	if dest.Target.URL == "" && len(dest.Parts) == 1 {
		dest.Target = dest.Parts[0]
		dest.Parts = nil
	}
	if dest.Target.URL == "" && len(dest.Parts) == 0 {
		return Destination{}, fmt.Errorf("destination %q has no upload url", dest.ID)
	}
	if dest.Target.Method == "" {
		dest.Target.Method = http.MethodPut
	}
	c.logger.Debugf("Upload ID: %s", dest.ID)

	return dest, nil
}

// Acknowledge marks the upload as finalized.
func (c *APIClient) Acknowledge(ctx context.Context, dest Destination, receipt Receipt) error {
	body, err := json.Marshal(acknowledgeRequest{
		Successful: true,
		Etags:      receipt.ETags,
	})
	if err != nil {
		return err
	}

	ackURL := fmt.Sprintf("%s/uploads/%s/acknowledge", c.baseURL, url.PathEscape(dest.ID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPatch, ackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Acknowledge request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer c.closeBody(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Acknowledge response dump: %s", string(dump))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return unwrapError(resp)
	}

	var response acknowledgeResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && err != io.EOF {
			return fmt.Errorf("decode acknowledgement: %w", err)
		}
	}
	logResponseMessage(response, c.logger)

	return nil
}

func (c *APIClient) authorize(req *retryablehttp.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	}
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func logResponseMessage(response acknowledgeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn(response.Message)
}
