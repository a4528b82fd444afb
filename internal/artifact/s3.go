package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/imamik/shipgate/internal/util/retry"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint targets an S3-compatible service and switches to path-style
	// addressing. Empty uses AWS.
	Endpoint string

	// AccessKey and SecretKey override the default credential chain.
	AccessKey string
	SecretKey string

	// MaxAttempts bounds uploads of a single object. Zero means 5.
	MaxAttempts  int
	InitialDelay time.Duration
}

// S3Store keeps objects in an S3 bucket under an optional key prefix.
type S3Store struct {
	s3     *s3.Client
	bucket string
	prefix string
	retry  []retry.Option
}

// NewS3Store creates an S3 backend.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 artifact store needs a bucket")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		// uploads are retried by the store
		config.WithRetryMaxAttempts(1),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &S3Store{
		s3:     client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		retry:  []retry.Option{retry.WithMaxAttempts(attempts), retry.WithInitialDelay(delay)},
	}, nil
}

// Write implements Backend. The upload is conditional on the key being
// absent; services that ignore the condition are covered by a HeadObject
// check first.
func (c *S3Store) Write(ctx context.Context, key string, data []byte) error {
	objectKey := c.key(key)

	exists, err := c.exists(ctx, objectKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(objectKey),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType(key)),
			IfNoneMatch:   aws.String("*"),
		})
		switch {
		case err == nil:
			return nil
		case isPreconditionFailed(err):
			return retry.Fatal(fmt.Errorf("%s: %w", key, ErrExists))
		case !isTransient(err):
			return retry.Fatal(err)
		}
		return err
	}, c.retry...)
	if err != nil {
		if errors.Is(err, ErrExists) {
			return err
		}
		return fmt.Errorf("failed to put object %s in bucket %s: %w", objectKey, c.bucket, err)
	}
	return nil
}

// Read implements Backend.
func (c *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	objectKey := c.key(key)
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", objectKey, c.bucket, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// List implements Backend.
func (c *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if p := c.key(prefix); p != "" {
		input.Prefix = aws.String(p)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", c.bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			if c.prefix != "" {
				key = strings.TrimPrefix(key, c.prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Location implements Backend.
func (c *S3Store) Location(key string) string {
	return "s3://" + c.bucket + "/" + c.key(key)
}

func (c *S3Store) key(key string) string {
	if c.prefix == "" {
		return key
	}
	if key == "" {
		return c.prefix + "/"
	}
	return path.Join(c.prefix, key)
}

func (c *S3Store) exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object %s: %w", objectKey, err)
	}
	return true, nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".gz":
		return "application/gzip"
	}
	return "application/octet-stream"
}

// statusCoder is implemented by smithy and AWS HTTP response errors.
type statusCoder interface {
	HTTPStatusCode() int
}

func httpStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// isNotFoundError checks if the error is a missing key or bucket.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	// Check for typed S3 errors first
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Fall back to API error code checking for S3-compatible services
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return httpStatus(err) == http.StatusNotFound
}

// isPreconditionFailed reports a conditional write that lost to an
// existing object.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	return httpStatus(err) == http.StatusPreconditionFailed
}

// isTransient reports errors worth retrying: throttling, server side
// failures and errors that never produced a response.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout", "RequestTimeTooSkewed":
			return true
		}
	}

	status := httpStatus(err)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests ||
		(status >= http.StatusInternalServerError && status != http.StatusNotImplemented)
}
