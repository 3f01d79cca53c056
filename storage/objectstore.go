package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore defines the object storage operations the staged-object
// service needs. Implementations wrap a concrete storage backend.
type ObjectStore interface {
	// PresignPut returns a time-limited URL granting a direct client upload
	// to the given key
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// Exists reports whether an object exists at the given key
	Exists(ctx context.Context, key string) (bool, error)

	// DownloadToFile streams the object at key into a local file
	DownloadToFile(ctx context.Context, key, path string) error

	// Copy duplicates the object at srcKey to dstKey
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes the object at the given key
	Delete(ctx context.Context, key string) error

	// List returns the keys under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// MinioObjectStore implements ObjectStore using a MinIO/S3-compatible backend
type MinioObjectStore struct {
	client *minio.Client
	bucket string
}

// MinioConfig holds the connection settings for the MinIO backend
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioObjectStore connects to a MinIO/S3-compatible backend
func NewMinioObjectStore(cfg MinioConfig) (*MinioObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	return &MinioObjectStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PresignPut returns a time-limited upload URL for the given key
func (s *MinioObjectStore) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	presigned, err := s.client.PresignHeader(ctx, http.MethodPut, s.bucket, key, expiry, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}

	return presigned.String(), nil
}

// Exists reports whether an object exists at the given key
func (s *MinioObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	return true, nil
}

// DownloadToFile streams the object at key into a local file
func (s *MinioObjectStore) DownloadToFile(ctx context.Context, key, path string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}

	return nil
}

// Copy duplicates the object at srcKey to dstKey
func (s *MinioObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey}

	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}

	return nil
}

// Delete removes the object at the given key
func (s *MinioObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// List returns the keys under the given prefix
func (s *MinioObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}
