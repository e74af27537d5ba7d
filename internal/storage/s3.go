package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store keeps assets in an S3-compatible bucket using the same keys as
// the local layout.
type S3Store struct {
	client   *minio.Client
	bucket   string
	region   string
	logger   *slog.Logger
	initOnce sync.Once
	initErr  error
}

var _ AssetStore = (*S3Store)(nil)

func NewS3Store(cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, region: region, logger: logger}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) Save(ctx context.Context, category Category, ext string, data []byte, opts ...SaveOption) (Asset, error) {
	if !ValidCategory(category) {
		return Asset{}, fmt.Errorf("%w: category %q", ErrInvalidAsset, category)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Asset{}, fmt.Errorf("ensure bucket: %w", err)
	}
	asset := newAsset(category, ext, data, opts)

	_, err := s.client.PutObject(ctx, s.bucket, asset.Key(), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: MIMEForName(asset.Name()),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("failed to upload asset: %w", err)
	}
	s.logger.Debug("Asset uploaded", "bucket", s.bucket, "key", asset.Key(), "bytes", len(data))
	return asset, nil
}

func (s *S3Store) Open(ctx context.Context, category Category, name string) (io.ReadCloser, error) {
	if !ValidCategory(category) || !validName(name) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidAsset, category, name)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	key := string(category) + "/" + name
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat asset: %w", err)
	}
	return obj, nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	return s.ensureBucket(ctx)
}
