package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	Register("s3", NewS3Backend)
}

// S3Backend stores objects in an S3-compatible bucket
type S3Backend struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewS3Backend creates a backend for cfg.S3Bucket
func NewS3Backend(cfg Config) (Backend, error) {
	if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return nil, errors.New("S3 endpoint and bucket are required")
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.S3PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.S3UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.S3Endpoint, cfg.S3Bucket)
	}

	return &S3Backend{client: client, bucket: cfg.S3Bucket, publicURL: publicURL}, nil
}

func (b *S3Backend) Name() string     { return "s3" }
func (b *S3Backend) Configured() bool { return b.client != nil }

func (b *S3Backend) PublicURL(id string) string {
	return b.publicURL + "/" + objectKey(id)
}

func (b *S3Backend) Upload(ctx context.Context, id string, r io.Reader, size int64, mime string) (string, error) {
	_, err := b.client.PutObject(ctx, b.bucket, objectKey(id), r, size, minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	return b.PublicURL(id), nil
}

func (b *S3Backend) Delete(ctx context.Context, id, _ string) (bool, error) {
	if err := b.client.RemoveObject(ctx, b.bucket, objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove object: %w", err)
	}
	return true, nil
}

func objectKey(id string) string {
	return "recordings/" + id
}
