// Package config reads the uploader configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Environment variables
const (
	APIURLKey           = "WIZARD_API_URL"
	APITokenKey         = "WIZARD_API_TOKEN"
	ProgressIntervalKey = "WIZARD_PROGRESS_INTERVAL"
	ChunkConcurrencyKey = "WIZARD_CHUNK_CONCURRENCY"
	S3BucketKey         = "WIZARD_S3_BUCKET"
	S3RegionKey         = "WIZARD_S3_REGION"
	S3AccessKeyIDKey    = "WIZARD_S3_ACCESS_KEY_ID"
	S3SecretKey         = "WIZARD_S3_SECRET_ACCESS_KEY"
	S3EndpointKey       = "WIZARD_S3_ENDPOINT"
	AnalyticsKey        = "WIZARD_ANALYTICS"
	DebugKey            = "WIZARD_DEBUG"
)

// DefaultProgressInterval ...
const DefaultProgressInterval = 60 * time.Millisecond

// Config ...
type Config struct {
	APIURL   string `env:"WIZARD_API_URL"`
	APIToken Secret `env:"WIZARD_API_TOKEN"`

	ProgressInterval time.Duration `env:"WIZARD_PROGRESS_INTERVAL"`
	// ChunkConcurrency of 0 picks a default from the CPU count.
	ChunkConcurrency int `env:"WIZARD_CHUNK_CONCURRENCY"`

	S3Bucket          string `env:"WIZARD_S3_BUCKET"`
	S3Region          string `env:"WIZARD_S3_REGION"`
	S3AccessKeyID     string `env:"WIZARD_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey Secret `env:"WIZARD_S3_SECRET_ACCESS_KEY"`
	S3Endpoint        string `env:"WIZARD_S3_ENDPOINT"`

	Analytics bool `env:"WIZARD_ANALYTICS"`
	Debug     bool `env:"WIZARD_DEBUG"`
}

// Load reads the configuration. Missing variables keep their defaults.
func Load(envRepo env.Repository) (Config, error) {
	cfg := Config{
		ProgressInterval: DefaultProgressInterval,
	}
	if err := Parse(&cfg, envRepo); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ProgressInterval < 0 {
		return Config{}, fmt.Errorf("%s must not be negative: %s", ProgressIntervalKey, cfg.ProgressInterval)
	}
	if cfg.ChunkConcurrency < 0 {
		return Config{}, fmt.Errorf("%s must not be negative: %d", ChunkConcurrencyKey, cfg.ChunkConcurrency)
	}
	return cfg, nil
}

// Validate checks the settings the chosen backend needs.
func (c Config) Validate(useS3 bool) error {
	var errs []error
	if useS3 {
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("%s: %w", S3BucketKey, ErrRequired))
		}
		if c.S3Region == "" {
			errs = append(errs, fmt.Errorf("%s: %w", S3RegionKey, ErrRequired))
		}
		return errors.Join(errs...)
	}

	if c.APIURL == "" {
		errs = append(errs, fmt.Errorf("%s: %w", APIURLKey, ErrRequired))
	}
	if c.APIToken == "" {
		errs = append(errs, fmt.Errorf("%s: %w", APITokenKey, ErrRequired))
	}
	return errors.Join(errs...)
}
