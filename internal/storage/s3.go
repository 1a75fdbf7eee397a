package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/source"
)

// S3 materializes sources whose storage_service is "s3" by downloading
// the object once into a per-resource temp directory and reusing it on
// subsequent calls, the S3 analogue of the teacher's local-file
// assumption. storage_config is expected to carry "bucket" and "key",
// with an optional "region" override.
type S3 struct {
	TempDir       string
	DefaultRegion string

	mu       sync.Mutex
	clients  map[string]*s3.Client
}

func NewS3(tempDir, defaultRegion string) *S3 {
	return &S3{TempDir: tempDir, DefaultRegion: defaultRegion, clients: make(map[string]*s3.Client)}
}

func (b *S3) clientFor(ctx context.Context, region string) (*s3.Client, error) {
	if region == "" {
		region = b.DefaultRegion
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[region]; ok {
		return c, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if ak, sk := os.Getenv("IGNI_S3_ACCESS_KEY"), os.Getenv("IGNI_S3_SECRET_KEY"); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	c := s3.NewFromConfig(cfg)
	b.clients[region] = c
	return c, nil
}

func (b *S3) Materialize(ctx context.Context, desc source.Descriptor) (string, error) {
	bucket, ok := desc.StorageConfig["bucket"]
	if !ok {
		return "", apperr.New(apperr.SourceOpenError, "s3 source %s missing storage_config.bucket", desc.ID)
	}
	key, ok := desc.StorageConfig["key"]
	if !ok {
		return "", apperr.New(apperr.SourceOpenError, "s3 source %s missing storage_config.key", desc.ID)
	}

	dir := PerResourceTempDir(b.TempDir, desc.ID, bucket+"/"+key)
	dest := filepath.Join(dir, filepath.Base(key))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	client, err := b.clientFor(ctx, desc.StorageConfig["region"])
	if err != nil {
		return "", apperr.Wrap(apperr.SourceOpenError, err, "s3 client for source %s", desc.ID)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.SourceOpenError, err, "creating temp dir for source %s", desc.ID)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.SourceOpenError, err, "fetching s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return "", apperr.Wrap(apperr.SourceOpenError, err, "creating local copy for source %s", desc.ID)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		os.Remove(dest)
		return "", apperr.Wrap(apperr.SourceOpenError, err, "downloading s3://%s/%s", bucket, key)
	}
	return dest, nil
}
