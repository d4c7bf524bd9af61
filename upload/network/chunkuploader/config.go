package chunkuploader

import (
	"net/http"
	"runtime"
	"time"
)

// Config holds configuration for the chunk uploader.
type Config struct {
	// Concurrency is the maximum number of parallel part uploads.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// MaxRetryPerChunk is the maximum number of attempts per part.
	// Default: 3
	MaxRetryPerChunk int

	// HungThreshold is how much longer than the average part upload time a part may take
	// before it is considered hung and restarted.
	// Default: 30 seconds
	HungThreshold time.Duration

	// RetryBackoff is multiplied by the attempt number to get the wait before the next attempt.
	// Default: 2 seconds
	RetryBackoff time.Duration

	// HTTPClient is the HTTP client to use for uploads.
	// If nil, DefaultHTTPClient is used.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:      DefaultConcurrency(),
		MaxRetryPerChunk: 3,
		HungThreshold:    30 * time.Second,
		RetryBackoff:     2 * time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

// DefaultHTTPClient creates an HTTP client tuned for part uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - part timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetryPerChunk <= 0 {
		c.MaxRetryPerChunk = d.MaxRetryPerChunk
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	return c
}
