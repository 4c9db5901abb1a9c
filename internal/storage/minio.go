package storage

import (
	"context"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// S3Publisher uploads files into a single bucket.
type S3Publisher struct {
	client *miniogo.Client
	bucket string
	logger zerolog.Logger
}

func NewS3Publisher(logger zerolog.Logger, cfg S3Config) (*S3Publisher, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &S3Publisher{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "s3").Logger(),
	}, nil
}

// EnsureBucket creates the bucket when missing.
func (s *S3Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *S3Publisher) Publish(ctx context.Context, key, localPath string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug().Str("bucket", s.bucket).Str("key", key).Int64("size", info.Size).Msg("Uploaded")
	return nil
}
