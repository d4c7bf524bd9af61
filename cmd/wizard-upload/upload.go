package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/wizard-uploads/config"
	"github.com/bitrise-io/wizard-uploads/upload"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/bitrise-io/wizard-uploads/upload/compression"
	"github.com/bitrise-io/wizard-uploads/upload/machine"
	"github.com/bitrise-io/wizard-uploads/upload/network"
	"github.com/bitrise-io/wizard-uploads/upload/network/chunkuploader"
	"github.com/bitrise-io/wizard-uploads/upload/progress"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var kinds = []string{"data", "dataset", "template", "mine"}

var errIncomplete = errors.New("not every upload completed")

type uploadOptions struct {
	kind        string
	contentType string
	attributes  map[string]string
	useS3       bool
	s3Direct    bool
	retries     int
	quiet       bool
	envFile     string
}

func newUploadCmd() *cobra.Command {
	opts := uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload [flags] PATH...",
		Short: "Upload files, directories or ** patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !contains(kinds, opts.kind) {
				return fmt.Errorf("invalid kind %q, must be one of %v", opts.kind, kinds)
			}
			if opts.retries < 0 {
				return fmt.Errorf("retries must not be negative")
			}
			return runUpload(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.kind, "kind", "k", "data", "Kind of resource the files belong to (data, dataset, template, mine)")
	flags.StringVar(&opts.contentType, "content-type", "", "Content type of the files (detected from the extension by default)")
	flags.StringToStringVar(&opts.attributes, "attr", nil, "Extra attributes sent with the destination request (key=value)")
	flags.BoolVar(&opts.useS3, "s3", false, "Upload straight to an S3 bucket instead of the Wizard API")
	flags.BoolVar(&opts.s3Direct, "s3-direct", false, "With --s3, upload through the S3 API instead of presigned URLs")
	flags.IntVarP(&opts.retries, "retries", "r", 2, "Number of automatic retries of a failed upload")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not render live progress")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional file to load environment variables from")

	return cmd
}

type backend struct {
	generator network.DestinationGenerator
	transport network.Transport
	ack       network.Acknowledger
}

func newBackend(ctx context.Context, cfg config.Config, opts uploadOptions, logger log.Logger) (backend, error) {
	chunkConfig := chunkuploader.DefaultConfig()
	if cfg.ChunkConcurrency > 0 {
		chunkConfig.Concurrency = cfg.ChunkConcurrency
	}
	httpTransport := network.NewHTTPTransport(nil, chunkConfig, logger)

	if !opts.useS3 {
		client := network.NewAPIClient(network.NewRetryableClient(logger), cfg.APIURL, string(cfg.APIToken), logger)
		return backend{generator: client, transport: httpTransport, ack: client}, nil
	}

	s3Client, err := network.NewS3Client(ctx, network.S3Params{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: string(cfg.S3SecretAccessKey),
		Endpoint:        cfg.S3Endpoint,
	}, logger)
	if err != nil {
		return backend{}, err
	}
	destinations := network.NewS3Destinations(s3Client, cfg.S3Bucket, logger)
	if opts.s3Direct {
		return backend{generator: destinations, transport: network.NewS3Transport(s3Client, cfg.S3Bucket, logger), ack: destinations}, nil
	}
	return backend{generator: destinations, transport: httpTransport, ack: destinations}, nil
}

func loadEnvFile(path string, logger log.Logger) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	logger.Debugf("Loaded environment from %s", path)
	return nil
}

func runUpload(ctx context.Context, opts uploadOptions, patterns []string, out io.Writer) error {
	logger := log.NewLogger()
	if err := loadEnvFile(opts.envFile, logger); err != nil {
		return err
	}

	envRepo := env.NewRepository()
	cfg, err := config.Load(envRepo)
	if err != nil {
		return err
	}
	logger.EnableDebugLog(cfg.Debug)
	if cfg.Debug {
		config.Print(cfg, logger)
	}
	if err := cfg.Validate(opts.useS3); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b, err := newBackend(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}

	var tracker analytics.Tracker
	if cfg.Analytics {
		tracker = upload.NewAnalyticsTracker(logger, analytics.Properties{"kind": opts.kind, "version": version})
	}

	registry := progress.NewRegistry(logger)
	screen := newRenderer(out, !opts.quiet && isTerminal(out))
	defer screen.finish()
	registry.Subscribe(screen.onChange)

	orchestrator, err := upload.New(upload.Params{
		Registry:         registry,
		Generator:        b.generator,
		Transport:        b.transport,
		Acknowledger:     b.ack,
		Notifier:         screen.notifier(upload.NewLogNotifier(logger)),
		Analytics:        tracker,
		ProgressInterval: cfg.ProgressInterval,
	}, logger)
	if err != nil {
		return err
	}
	registry.Subscribe(newAutoRetrier(orchestrator, opts.retries, logger).onChange)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go watchInterrupts(ctx, signals, upload.NewGuard(registry), cancel, logger)

	s := starter{
		orchestrator: orchestrator,
		generator:    b.generator,
		archiver:     compression.NewArchiver(logger, envRepo, compression.NewDependencyChecker(logger, envRepo)),
		pathProvider: pathutil.NewPathProvider(),
		opts:         opts,
		logger:       logger,
	}

	selections := newPathExpander(logger).expand(patterns)
	failedToStart := 0
	for _, sel := range selections {
		if ctx.Err() != nil {
			break
		}
		if err := s.start(ctx, sel); err != nil {
			failedToStart++
		}
	}

	orchestrator.Wait()
	screen.finish()

	return summarize(registry.List(), failedToStart, logger)
}

type starter struct {
	orchestrator *upload.Orchestrator
	generator    network.DestinationGenerator
	archiver     blob.Archiver
	pathProvider pathutil.PathProvider
	opts         uploadOptions
	logger       log.Logger
}

// start walks one selection through the upload state machine and hands it to the orchestrator.
func (s starter) start(ctx context.Context, sel selection) error {
	m := machine.New(s.generator, s.logger)

	if sel.Missing {
		if _, err := m.Send(ctx, machine.MissingFile{}); err != nil {
			return err
		}
		s.logger.Errorf("%s: no such file", sel.Pattern)
		return fmt.Errorf("%s: %w", sel.Pattern, os.ErrNotExist)
	}

	file, err := blob.FromPath(sel.Path, s.archiver, s.pathProvider, compression.ArchiveExtension)
	if err != nil {
		s.logger.Errorf("%s: %s", sel.Path, err)
		return err
	}
	if _, err := m.Send(ctx, machine.SelectFile{File: file}); err != nil {
		return err
	}

	meta := upload.Meta{
		Kind:        s.opts.kind,
		ContentType: s.contentType(file.Name),
		Attributes:  s.opts.attributes,
	}
	request := network.DestinationRequest{
		Kind:        meta.Kind,
		ContentType: meta.ContentType,
		Attributes:  meta.Attributes,
	}

	var state machine.State
	for attempt := 0; attempt <= s.opts.retries; attempt++ {
		state, err = m.Send(ctx, machine.GenerateDestination{Request: request})
		if err != nil {
			return err
		}
		failed, ok := state.(machine.Failed)
		if !ok || ctx.Err() != nil {
			break
		}
		s.logger.Warnf("%s: %s", file.Name, failed.Message)
	}
	if failed, ok := state.(machine.Failed); ok {
		s.logger.Errorf("%s: %s", file.Name, failed.Message)
		return fmt.Errorf("%s: %s", file.Name, failed.Message)
	}

	id, err := s.orchestrator.StartFromMachine(ctx, m, meta)
	if err != nil {
		s.logger.Errorf("%s: %s", file.Name, err)
		return err
	}
	s.logger.Debugf("Started upload %s for %s", id, file.Name)
	return nil
}

func (s starter) contentType(name string) string {
	if s.opts.contentType != "" {
		return s.opts.contentType
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func summarize(entries []progress.Entry, failedToStart int, logger log.Logger) error {
	completed := 0
	for _, entry := range entries {
		if entry.Status == progress.StatusCompleted {
			completed++
		}
	}
	total := len(entries) + failedToStart

	logger.Println()
	if completed == total {
		logger.Printf("%s", color.GreenString("Uploaded %d of %d file(s)", completed, total))
		return nil
	}
	logger.Printf("%s", color.RedString("Uploaded %d of %d file(s)", completed, total))
	return fmt.Errorf("%d upload(s) failed: %w", total-completed, errIncomplete)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
