package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dungeon-io/dungeon/internal/cloud"
)

// ErrBucketNotFound is returned when the state bucket does not exist.
var ErrBucketNotFound = errors.New("state bucket not found")

type bucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Backend verifies an S3 bucket holding self-managed state.
type s3Backend struct {
	url     string
	bucket  string
	prefix  string
	region  string
	profile string

	client bucketAPI
}

func newS3Backend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	b := &s3Backend{
		url:     cfg.URL,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		region:  cfg.Region,
		profile: cfg.Profile,
	}
	if b.bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	if err := b.initClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return b, nil
}

func (b *s3Backend) initClient(ctx context.Context) error {
	var profile *string
	if b.profile != "" {
		profile = &b.profile
	}
	cfg, err := cloud.LoadConfig(ctx, b.region, profile)
	if err != nil {
		return err
	}
	b.client = s3.NewFromConfig(cfg)
	return nil
}

func (b *s3Backend) URL() string { return b.url }

func (b *s3Backend) Verify(ctx context.Context) error {
	if err := requirePassphrase(); err != nil {
		return err
	}

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return b.bucketError(err)
	}
	if b.prefix == "" {
		return nil
	}

	// HeadBucket passes with bucket-level access alone; the engine also lists
	// the state prefix.
	_, err = b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(strings.TrimSuffix(b.prefix, "/") + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return b.bucketError(err)
	}
	return nil
}

func (b *s3Backend) bucketError(err error) error {
	location := "s3://" + b.bucket
	if b.prefix != "" {
		location += "/" + strings.Trim(b.prefix, "/")
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: s3://%s", ErrBucketNotFound, b.bucket)
		case "Forbidden", "AccessDenied":
			return fmt.Errorf("access denied to state bucket %s: %w", location, err)
		}
	}
	return fmt.Errorf("failed to check state bucket %s: %w", location, err)
}
