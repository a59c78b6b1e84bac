// Package s3 implements the object.Store interface on top of Amazon S3 or
// any S3-compatible endpoint (MinIO, Localstack, R2).
//
// CRC32 handling: Put forwards the caller-computed checksum via the
// ChecksumCRC32 request field so the backend stores and later echoes it.
// GetChecksums issues a HeadObject with checksum mode enabled and returns
// whatever the backend recorded, which may be nothing on servers that do not
// implement the checksum extension.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pictorhq/pictor/pkg/store/object"
)

// Config contains connection settings for an S3-compatible endpoint.
type Config struct {
	// Endpoint is the base URL. Empty means AWS S3 proper.
	Endpoint string

	Region    string
	AccessKey string
	SecretKey string
	Bucket    string

	// ForcePathStyle must be true for most non-AWS implementations.
	ForcePathStyle bool
}

// ObjectStore implements object.Store backed by an S3 bucket.
//
// Safe for concurrent use. Writes to the same key are last-writer-wins.
type ObjectStore struct {
	client *s3.Client
	bucket string
}

var _ object.Store = (*ObjectStore)(nil)

// New creates an ObjectStore from config, building the AWS client.
func New(ctx context.Context, cfg Config) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// NewWithClient wraps an existing S3 client. Used by tests and callers that
// need custom client middleware.
func NewWithClient(client *s3.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Put uploads the body under key, forwarding the CRC32 integrity hint when
// provided.
func (s *ObjectStore) Put(ctx context.Context, key string, body io.Reader, opts object.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentLength > 0 {
		input.ContentLength = aws.Int64(opts.ContentLength)
	}
	if opts.CRC32Base64 != "" {
		input.ChecksumCRC32 = aws.String(opts.CRC32Base64)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classify(key, err)
	}
	return nil
}

// Get returns a streamed reader for the object. The caller must close it.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, object.Info, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, object.Info{}, classify(key, err)
	}

	info := object.Info{
		Key:           key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		LastModified:  aws.ToTime(out.LastModified),
	}
	return out.Body, info, nil
}

// GetChecksums reads stored checksum metadata via HeadObject.
//
// A backend without checksum support returns an empty value, not an error:
// the finalize pipeline logs a warning and skips verification in that case.
func (s *ObjectStore) GetChecksums(ctx context.Context, key string) (object.Checksums, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return object.Checksums{}, classify(key, err)
	}
	return object.Checksums{CRC32Base64: out.ChecksumCRC32}, nil
}

// Delete removes the object. Missing keys are not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFoundError(err) {
		return classify(key, err)
	}
	return nil
}

// ListPrefix enumerates objects under the prefix, following pagination.
func (s *ObjectStore) ListPrefix(ctx context.Context, prefix string) ([]object.Info, error) {
	var infos []object.Info

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, object.Info{
				Key:           aws.ToString(obj.Key),
				ContentLength: aws.ToInt64(obj.Size),
				LastModified:  aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// Ping verifies the bucket is reachable and accessible.
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return classify("", err)
	}
	return nil
}

// classify maps an AWS SDK error to a typed StoreError.
func classify(key string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFoundError(err) {
		return object.NewError(object.KindNotFound, key, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return object.NewError(object.KindUnauthorized, key, err)
		}
	}
	return object.NewError(object.KindTransport, key, err)
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}
