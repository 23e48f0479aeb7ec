package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// objectGetter is the subset of *s3.Client used by ObjectStore.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore reads s3://bucket/key sources from an S3-compatible service,
// typically a local MinIO or Ceph RGW mirror of the upstream cloud images.
type ObjectStore struct {
	client objectGetter
}

// ObjectStoreOptions configures NewObjectStore.
type ObjectStoreOptions struct {
	// Endpoint overrides the AWS endpoint, e.g. "https://minio.lan:9000".
	Endpoint string
	Region   string
	// AccessKey and SecretKey select static credentials. When empty the
	// default AWS credential chain is used.
	AccessKey string
	SecretKey string
	PathStyle bool
}

// NewObjectStore creates an ObjectStore from the AWS default configuration.
func NewObjectStore(ctx context.Context, opts ObjectStoreOptions) (*ObjectStore, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
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
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &ObjectStore{client: client}, nil
}

// Open starts streaming bucket/key and returns its content length.
func (s *ObjectStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if bucket == "" || key == "" {
		return nil, 0, fmt.Errorf("object URL must name a bucket and a key")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, 0, fmt.Errorf("object s3://%s/%s not found: %w", bucket, key, err)
		}
		return nil, 0, fmt.Errorf("failed to get object s3://%s/%s: %w", bucket, key, err)
	}

	var total int64
	if out.ContentLength != nil && *out.ContentLength > 0 {
		total = *out.ContentLength
	}
	return out.Body, total, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
