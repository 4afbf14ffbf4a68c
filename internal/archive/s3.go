package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/config"
)

// S3 uploads exports to an S3-compatible bucket.
type S3 struct {
	mc     *minio.Client
	bucket string
	region string
	logger *zap.Logger
}

// NewS3 creates an uploader from the archive config.
func NewS3(cfg config.ArchiveConfig, logger *zap.Logger) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive endpoint and bucket must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3{mc: mc, bucket: cfg.Bucket, region: region, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created archive bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload stores r under key.
func (s *S3) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	info, err := s.mc.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info("uploaded export", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("size", info.Size))
	return nil
}

// Bucket returns the configured bucket name.
func (s *S3) Bucket() string {
	return s.bucket
}
