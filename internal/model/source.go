// v1
// internal/model/source.go
package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source yields the raw bytes of a versioned artifact. Reload decides what
// to do with them; sources do no parsing.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Describe() string
}

// OpenSource picks a source implementation from a URI: s3://bucket/key uses
// the S3 client, anything else is treated as a local file path.
func OpenSource(ctx context.Context, uri string) (Source, error) {
	if strings.HasPrefix(uri, "s3://") {
		return newS3Source(ctx, uri)
	}
	return FileSource(uri), nil
}

// FileSource reads the artifact from the local filesystem. This matches the
// original deployment where the training pipeline drops the artifact next to
// the service.
type FileSource string

func (f FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", string(f), err)
	}
	return b, nil
}

func (f FileSource) Describe() string { return "file:" + string(f) }

// S3Source fetches the artifact object from an S3-compatible store (AWS or
// MinIO via S3_ENDPOINT).
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

func newS3Source(ctx context.Context, uri string) (*S3Source, error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("bad s3 uri %q (want s3://bucket/key)", uri)
	}
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := os.Getenv("S3_ENDPOINT"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
	})
	return &S3Source{client: client, bucket: bucket, key: key}, nil
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, s.key, err)
	}
	defer func() { _ = out.Body.Close() }()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s/%s: %w", s.bucket, s.key, err)
	}
	return b, nil
}

func (s *S3Source) Describe() string { return "s3://" + s.bucket + "/" + s.key }
