package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 5
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ACL             string
	PartSize        int64
	Concurrency     int
}

// S3Store writes stage parts to an S3 bucket.
type S3Store struct {
	opts     S3Options
	awsCfg   aws.Config
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store builds an S3 client from the default credential chain, or from
// static keys when opts carries them.
func NewS3Store(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}
	if opts.PartSize <= 0 {
		opts.PartSize = defaultUploadPartSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = opts.PartSize
		u.Concurrency = opts.Concurrency
	})

	return &S3Store{
		opts:     opts,
		awsCfg:   cfg,
		client:   client,
		uploader: uploader,
		logger:   logger.With(zap.String("bucket", opts.Bucket)),
	}, nil
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, metadata map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.opts.Bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	}
	if s.opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(s.opts.ACL)
	}

	result, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeUpload, "failed to upload to S3").WithDetail("key", key)
	}

	s.logger.Debug("stage part uploaded",
		zap.String("location", result.Location),
		zap.Int("bytes", len(body)))
	return s.URL(key), nil
}

// Delete removes key from the bucket.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to delete S3 object").WithDetail("key", key)
	}
	return nil
}

// URL returns the s3:// address of key.
func (s *S3Store) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, strings.TrimPrefix(key, "/"))
}

// Check verifies the bucket is reachable with the configured credentials.
func (s *S3Store) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.opts.Bucket),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "cannot access S3 bucket").WithDetail("bucket", s.opts.Bucket)
	}
	return nil
}

// Credentials resolves the credentials the store signs requests with, so a
// warehouse COPY can reuse them when no IAM role is configured.
func (s *S3Store) Credentials(ctx context.Context) (aws.Credentials, error) {
	if s.awsCfg.Credentials == nil {
		return aws.Credentials{}, errors.New(errors.ErrorTypeConfig, "no AWS credentials configured")
	}
	creds, err := s.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, errors.Wrap(err, errors.ErrorTypeConfig, "failed to resolve AWS credentials")
	}
	return creds, nil
}
