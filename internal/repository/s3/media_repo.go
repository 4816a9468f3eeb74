package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"

	"lingopipe/pkg/client/s3"
)

// MediaRepo stores job inputs and outputs under canonical keys
// (users/{user_id}/uploads/... and users/{user_id}/outputs/{job_id}/...).
// The key recorded at upload time is the only resolution a job ever needs.
type MediaRepo struct {
	StorageS3 *s3.StorageS3
}

func NewMediaRepo(storageS3 *s3.StorageS3) *MediaRepo {
	return &MediaRepo{StorageS3: storageS3}
}

func (s *MediaRepo) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if s.StorageS3 == nil || s.StorageS3.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.StorageS3.Client.PutObject(
		ctx,
		s.StorageS3.Bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *MediaRepo) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.StorageS3.Client.GetObject(ctx, s.StorageS3.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return obj, nil
}

func (s *MediaRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.StorageS3.Client.StatObject(ctx, s.StorageS3.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("s3 stat object: %w", err)
	}
	return true, nil
}

func (s *MediaRepo) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.StorageS3 == nil || s.StorageS3.Client == nil {
		return "", fmt.Errorf("s3 client not initialized")
	}

	presignedURL, err := s.StorageS3.Client.PresignedGetObject(ctx, s.StorageS3.Bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return presignedURL.String(), nil
}

func (s *MediaRepo) Remove(ctx context.Context, key string) error {
	err := s.StorageS3.Client.RemoveObject(ctx, s.StorageS3.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3 remove object: %w", err)
	}
	return nil
}
