package storage

import (
	"context"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/tphakala/migration-assistant/internal/errors"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket string
	Prefix string
	// PartConcurrency is the number of parts the upload manager sends in
	// parallel for a single large object.
	PartConcurrency int
}

// S3Store writes objects into a bucket through the SDK upload manager.
type S3Store struct {
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
	retry    RetryConfig
}

// NewS3Store creates a store for cfg.Bucket using the given AWS session.
func NewS3Store(sess client.ConfigProvider, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.Newf("s3 store: bucket is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}

	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		if cfg.PartConcurrency > 0 {
			u.Concurrency = cfg.PartConcurrency
		}
	})

	return &S3Store{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		client:   s3.New(sess),
		uploader: uploader,
		retry:    DefaultRetryConfig(),
	}, nil
}

// Name returns the name of this store
func (s *S3Store) Name() string { return "s3" }

// Bucket returns the destination bucket.
func (s *S3Store) Bucket() string { return s.bucket }

// Put uploads r under prefix/key. The upload manager splits large bodies
// into parts and retries individual requests itself.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	fullKey := path.Join(s.prefix, key)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   r,
	})
	if err != nil {
		if isS3Unreachable(err) {
			return unreachable(s.Name(), err)
		}
		return putError(s.Name(), fullKey, err)
	}
	return nil
}

// Validate checks that the bucket exists and is accessible.
func (s *S3Store) Validate(ctx context.Context) error {
	err := WithRetry(ctx, s.retry, func() error {
		_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(s.bucket),
		})
		return err
	})
	if err != nil {
		return unreachable(s.Name(), err)
	}
	return nil
}

// isS3Unreachable reports errors that no other object in the batch would
// avoid: the bucket is gone, access is denied, or the endpoint cannot be reached.
func isS3Unreachable(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			return reqErr.Code() == s3.ErrCodeNoSuchBucket
		}
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchBucket, request.ErrCodeRequestError, "AccessDenied", "InvalidAccessKeyId":
			return true
		}
	}
	return false
}
