package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/wizard-uploads/upload/blob"
	"github.com/google/uuid"
)

const (
	numAcknowledgeRetries = 3
	defaultPresignExpiry  = 15 * time.Minute
	s3PartSizeBytes       = 10 * 1024 * 1024
)

// S3Params ...
type S3Params struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint (S3 compatible storages); path style addressing is used with it.
	Endpoint string
}

// NewS3Client creates an S3 client from params.
func NewS3Client(ctx context.Context, params S3Params, logger log.Logger) (*s3.Client, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

// S3Destinations generates pre-signed PUT destinations in a bucket and acknowledges uploads by
// checking the stored object.
type S3Destinations struct {
	client      *s3.Client
	presigner   *s3.PresignClient
	bucket      string
	expiry      time.Duration
	ackWait     time.Duration
	logger      log.Logger
	now         func() time.Time
	newObjectID func() string
}

// NewS3Destinations ...
func NewS3Destinations(client *s3.Client, bucket string, logger log.Logger) *S3Destinations {
	return &S3Destinations{
		client:      client,
		presigner:   s3.NewPresignClient(client),
		bucket:      bucket,
		expiry:      defaultPresignExpiry,
		ackWait:     2 * time.Second,
		logger:      logger,
		now:         time.Now,
		newObjectID: uuid.NewString,
	}
}

// ObjectKey returns the key an upload is stored under: kind/yyyy/mm/dd/id/filename.
func ObjectKey(kind string, at time.Time, id, fileName string) string {
	if kind == "" {
		kind = "data"
	}
	return path.Join(kind, at.UTC().Format("2006/01/02"), id, path.Base(fileName))
}

// GenerateDestination presigns a PUT of the requested file.
func (d *S3Destinations) GenerateDestination(ctx context.Context, req DestinationRequest) (Destination, error) {
	id := d.newObjectID()
	key := ObjectKey(req.Kind, d.now(), id, req.FileName)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(req.SizeBytes),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	presigned, err := d.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(d.expiry))
	if err != nil {
		return Destination{}, fmt.Errorf("presign put object: %w", err)
	}

	headers := map[string]string{}
	for name, values := range presigned.SignedHeader {
		if len(values) == 0 {
			continue
		}
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Content-Length":
			// set by the http client
		default:
			headers[name] = values[0]
		}
	}

	d.logger.Debugf("Presigned %s for %s", key, req.FileName)

	return Destination{
		ID: id,
		Target: UploadURL{
			URL:     presigned.URL,
			Method:  presigned.Method,
			Headers: headers,
		},
		ObjectKey: key,
		SizeBytes: req.SizeBytes,
	}, nil
}

// Acknowledge checks that the object exists with the expected size. A missing object is retried
// before it fails with ErrObjectNotFound.
func (d *S3Destinations) Acknowledge(ctx context.Context, dest Destination, _ Receipt) error {
	if dest.ObjectKey == "" {
		return fmt.Errorf("destination %q has no object key", dest.ID)
	}

	var size int64
	err := retry.Times(numAcknowledgeRetries).Wait(d.ackWait).TryWithAbort(func(attempt uint) (error, bool) {
		out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(dest.ObjectKey),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					d.logger.Debugf("Object %s not found yet (attempt %d)", dest.ObjectKey, attempt+1)
					return fmt.Errorf("%w: %s", ErrObjectNotFound, dest.ObjectKey), false
				default:
					return fmt.Errorf("head object: %w", err), true
				}
			}
			return classifyRequestError(ctx, err), true
		}

		size = aws.ToInt64(out.ContentLength)
		return nil, true
	})
	if err != nil {
		return err
	}

	if dest.SizeBytes > 0 && size != dest.SizeBytes {
		return fmt.Errorf("object %s has %d bytes, expected %d", dest.ObjectKey, size, dest.SizeBytes)
	}

	return nil
}

// S3Transport writes files straight into the bucket with the S3 upload manager, which switches to
// multipart uploads for large files.
type S3Transport struct {
	client   *s3.Client
	bucket   string
	partSize int64
	logger   log.Logger
}

// NewS3Transport ...
func NewS3Transport(client *s3.Client, bucket string, logger log.Logger) *S3Transport {
	return &S3Transport{
		client:   client,
		bucket:   bucket,
		partSize: s3PartSizeBytes,
		logger:   logger,
	}
}

// BrowserDependent is true: the upload manager runs in this process.
func (t *S3Transport) BrowserDependent() bool {
	return true
}

// Put uploads file under dest.ObjectKey.
func (t *S3Transport) Put(ctx context.Context, dest Destination, file blob.File, onProgress ProgressFunc) (Receipt, error) {
	if dest.ObjectKey == "" {
		return Receipt{}, fmt.Errorf("destination %q has no object key", dest.ID)
	}
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	content, err := file.Open()
	if err != nil {
		return Receipt{}, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer content.Close() //nolint:errcheck

	uploader := manager.NewUploader(t.client, func(u *manager.Uploader) {
		u.PartSize = t.partSize
	})

	onProgress(0, file.Size)
	body := &progressReader{r: content, onRead: func(n int64) {
		onProgress(min(n, file.Size), file.Size)
	}}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(dest.ObjectKey),
		Body:          body,
		ContentLength: aws.Int64(file.Size),
	}
	if ct := dest.Target.Headers["Content-Type"]; ct != "" {
		input.ContentType = aws.String(ct)
	}

	t.logger.Debugf("Uploading %s to s3://%s/%s", file.Name, t.bucket, dest.ObjectKey)

	out, err := uploader.Upload(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return Receipt{}, classifyRequestError(ctx, err)
		}
		return Receipt{}, fmt.Errorf("upload object: %w", err)
	}

	var receipt Receipt
	if out.ETag != nil {
		receipt.ETags = []string{aws.ToString(out.ETag)}
	}
	return receipt, nil
}
