// Package objstore implements the object storage client for depot.
//
// The client wraps an S3-compatible backend behind a narrow surface: object
// metadata, paginated listing, multipart upload sessions with presigned part
// links, bounded recursive copy/delete, and byte streaming. Backend errors are
// translated into a small stable taxonomy at every call boundary (errors.go).
//
// Concurrency discipline:
//   - recursive operations fan out across objects under CrossObjectConcurrency
//   - large single-object transfers parallelize parts under TransferConcurrency
//
// The two ceilings are deliberately separate: one bounds request fan-out over
// many small objects, the other bounds per-object throughput.
package objstore

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// MaxKeysPerPage is the hard per-call listing maximum imposed by S3.
const MaxKeysPerPage = 1000

// DefaultPageSize is the default page size for ListPage.
const DefaultPageSize = 500

// DeleteBatchMax is the per-call item ceiling of the DeleteObjects API.
const DeleteBatchMax = 1000

const (
	// DefaultCrossObjectConcurrency bounds in-flight backend requests during
	// recursive copy and delete, independent of object count.
	DefaultCrossObjectConcurrency = 4

	// DefaultTransferConcurrency bounds parallel part transfers for a single
	// large object.
	DefaultTransferConcurrency = 10

	// defaultRetryAttempts bounds retries of idempotent calls on throttling
	// or backend unavailability.
	defaultRetryAttempts = 4
)

// Config configures the object store client.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are provided. For S3-compatible stores (MinIO, Wasabi, Ceph)
// set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the backing bucket name (required).
	Bucket string

	// Region is the AWS region. When empty, resolution order is environment,
	// shared profile, EC2 instance metadata, then us-east-1. No default is
	// applied for custom endpoints.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared-config profile.
	Profile string

	// AccessKeyID and SecretAccessKey override the default credential chain
	// when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// CrossObjectConcurrency overrides the recursive fan-out ceiling.
	CrossObjectConcurrency int

	// TransferConcurrency overrides the per-object part-transfer ceiling.
	TransferConcurrency int

	// RateLimit caps backend requests per second issued by recursive
	// operations. Zero means unlimited.
	RateLimit float64
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("objstore config: bucket name is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return errors.New("objstore config: access key ID and secret access key must be provided together")
	}
	return nil
}

// s3API is the slice of the S3 client surface the store depends on.
// *s3.Client satisfies it; tests substitute a fake.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, opts ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// presignAPI is the slice of the S3 presigner surface the store depends on.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client executes physical backend calls against a single bucket.
//
// Safe for concurrent use. All network calls honor the passed context.
type Client struct {
	api       s3API
	presigner presignAPI
	bucket    string
	logger    *zap.Logger

	crossObjectConcurrency int
	transferConcurrency    int

	// limiter caps request issue rate inside recursive operations.
	// Nil means unlimited.
	limiter *rate.Limiter
}

// New connects to the backend and verifies bucket reachability.
//
// The connectivity probe runs before the client is handed out so that a
// misconfigured endpoint fails at construction, not on first use.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &StoreError{Op: "New", Bucket: cfg.Bucket, Err: translate(err)}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	api := s3.NewFromConfig(awsCfg, s3Opts...)

	c := &Client{
		api:                    api,
		presigner:              s3.NewPresignClient(api),
		bucket:                 cfg.Bucket,
		logger:                 logger,
		crossObjectConcurrency: cfg.CrossObjectConcurrency,
		transferConcurrency:    cfg.TransferConcurrency,
	}
	if c.crossObjectConcurrency <= 0 {
		c.crossObjectConcurrency = DefaultCrossObjectConcurrency
	}
	if c.transferConcurrency <= 0 {
		c.transferConcurrency = DefaultTransferConcurrency
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, &StoreError{Op: "New", Bucket: cfg.Bucket, Err: translate(err)}
	}

	return c, nil
}

// newWithAPI wires explicit API implementations. Used by tests.
func newWithAPI(api s3API, presigner presignAPI, bucket string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:                    api,
		presigner:              presigner,
		bucket:                 bucket,
		logger:                 logger,
		crossObjectConcurrency: DefaultCrossObjectConcurrency,
		transferConcurrency:    DefaultTransferConcurrency,
	}
}

// Close releases client resources. The SDK client holds no connections that
// need explicit teardown, but callers own the lifecycle regardless.
func (c *Client) Close() error {
	return nil
}

// Bucket returns the bucket this client operates on.
func (c *Client) Bucket() string {
	return c.bucket
}

// BucketExists reports whether the configured bucket is reachable.
// A missing bucket is a false, not an error; connectivity and authorization
// failures are surfaced.
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		terr := translate(err)
		if errors.Is(terr, ErrNotFound) || errors.Is(terr, ErrBucketNotFound) {
			return false, nil
		}
		return false, &StoreError{Op: "BucketExists", Bucket: c.bucket, Err: terr}
	}
	return true, nil
}

// Healthy is the health-probe variant of BucketExists: errors are absorbed
// into a boolean. This is the only place store errors are deliberately
// swallowed.
func (c *Client) Healthy(ctx context.Context) bool {
	ok, err := c.BucketExists(ctx)
	if err != nil {
		c.logger.Warn("bucket health probe failed", zap.String("bucket", c.bucket), zap.Error(err))
		return false
	}
	return ok
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(ctx, awsCfg, cfg.Endpoint)
	return awsCfg, nil
}

// resolveRegion applies region fallbacks after SDK config loading.
//
// The SDK already honors explicit config, environment, and profile. When all
// of those came up empty and we talk to real AWS, probe instance metadata
// before settling on the default region. Custom endpoints get no default:
// S3-compatible stores generally ignore the region.
func resolveRegion(ctx context.Context, awsCfg aws.Config, endpoint string) string {
	if awsCfg.Region != "" {
		return awsCfg.Region
	}
	if endpoint != "" {
		return ""
	}

	imdsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if out, err := imds.NewFromConfig(awsCfg).GetRegion(imdsCtx, &imds.GetRegionInput{}); err == nil && out.Region != "" {
		return out.Region
	}

	return DefaultAWSRegion
}

// withRetry reattempts fn with exponential backoff on retryable failures.
// Callers must only pass idempotent operations.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := 250 * time.Millisecond
	var err error
	for attempt := 1; attempt <= defaultRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == defaultRetryAttempts {
			break
		}
		c.logger.Debug("retrying backend call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
