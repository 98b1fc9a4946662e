package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps artifacts in a bucket under a key prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Options configure NewS3Store.
type S3Options struct {
	Bucket string
	Prefix string
	// Endpoint targets an S3-compatible service such as LocalStack or MinIO.
	Endpoint string
}

// NewS3Store loads the default AWS configuration (env, shared config,
// instance role) and creates a store.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 storage: bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *S3Store) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

// Save uploads r. The body is spooled to a temp file first so the SDK gets
// a seekable body with a known length.
func (s *S3Store) Save(ctx context.Context, key string, r io.Reader) (Object, error) {
	tmp, err := os.CreateTemp("", "s3-upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("spool artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hr := newHashingReader(r)
	if _, err := io.Copy(tmp, hr); err != nil {
		return Object{}, fmt.Errorf("spool artifact: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Object{}, fmt.Errorf("spool artifact: %w", err)
	}

	obj := hr.object(key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          tmp,
		ContentLength: aws.Int64(obj.Size),
		Metadata:      map[string]string{"sha256": obj.SHA256},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return obj, nil
}

// Open downloads the artifact.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the artifact.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
