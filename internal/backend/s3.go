package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// defaultRegion is where the NODD buckets live.
const defaultRegion = "us-east-1"

// S3Backend reads model output from a public S3-compatible bucket.
// Requests are unsigned: the NODD buckets allow anonymous access.
type S3Backend struct {
	bucket *blob.Bucket
	name   string
	log    *slog.Logger
}

// NewS3 opens the named bucket with an anonymous-credentials client.
func NewS3(bucketName string) (*S3Backend, error) {
	ctx := context.Background()

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(defaultRegion),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	bucket, err := s3blob.OpenBucketV2(ctx, client, bucketName, nil)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketName, err)
	}

	return &S3Backend{
		bucket: bucket,
		name:   bucketName,
		log:    slog.With("component", "backend", "transport", "s3"),
	}, nil
}

// Download implements Backend.Download using ranged blob reads.
func (b *S3Backend) Download(ctx context.Context, key string, br *ByteRange) ([]byte, error) {
	offset, length := int64(0), int64(-1)
	if br != nil {
		offset, length = br.Start, br.Length()
	}

	r, err := b.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, classifyS3(err, key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Size implements Backend.Size via a bucket attributes call.
func (b *S3Backend) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, classifyS3(err, key)
	}
	return attrs.Size, nil
}

// ListMatches lists keys under prefix containing pattern, excluding
// sidecar index objects.
func (b *S3Backend) ListMatches(ctx context.Context, prefix, pattern string) ([]string, error) {
	b.log.Debug("listing objects", "prefix", prefix, "pattern", pattern)

	var keys []string
	iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if strings.HasSuffix(obj.Key, ".idx") {
			continue
		}
		if strings.Contains(obj.Key, pattern) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// CanSubset is always true for object stores.
func (b *S3Backend) CanSubset() bool { return true }

// BaseURL returns the bucket's public URL.
func (b *S3Backend) BaseURL() string {
	return "https://" + b.name + ".s3.amazonaws.com/"
}

// Close releases the bucket handle.
func (b *S3Backend) Close() error {
	return b.bucket.Close()
}

// classifyS3 tags missing-key failures as ErrNotFound; anything else is
// fatal and propagates as-is.
func classifyS3(err error, key string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("s3 key %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("s3 key %s: %w", key, err)
}
