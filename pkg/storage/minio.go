package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/franciumm/edusite-api/pkg/config"
)

// Store is the blob-store contract the services depend on. Delete is
// idempotent: removing a missing key is not an error.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// MinIOStore implements Store on top of a MinIO/S3 endpoint.
type MinIOStore struct {
	client *minio.Client
	region string
}

// NewMinIOStore connects to the endpoint and ensures the configured
// buckets exist.
func NewMinIOStore(cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &MinIOStore{client: client, region: cfg.Region}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, bucket := range []string{cfg.ContentBucket, cfg.SubmissionBucket} {
		if bucket == "" {
			continue
		}
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Put uploads a blob under the given key.
func (s *MinIOStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes a blob. Missing keys are treated as already deleted.
func (s *MinIOStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignedGetURL returns a time-limited download URL for the blob.
func (s *MinIOStore) PresignedGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %s/%s: %w", bucket, key, err)
	}
	return url.String(), nil
}
