// Package storage implements content-addressed media storage on top of an
// S3-compatible object store. Objects are keyed by the SHA-256 of their
// content, which makes writes idempotent and deduplicates identical bytes.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/osintarchive/archiver/internal/config"
)

const keyPrefix = "media"

// ObjectAPI is the narrow slice of the object-store client the Store needs.
// It exists so tests can run against an in-memory fake.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// minioAPI adapts *minio.Client to ObjectAPI.
type minioAPI struct {
	client *minio.Client
}

func (m minioAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m minioAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.client.MakeBucket(ctx, bucket, opts)
}

func (m minioAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucket, key, r, size, opts)
}

func (m minioAPI) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, key, opts)
}

func (m minioAPI) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucket, key, opts)
}

func (m minioAPI) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	return m.client.RemoveObject(ctx, bucket, key, opts)
}

// Store is a content-addressed object store client.
type Store struct {
	api     ObjectAPI
	bucket  string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Store backed by an S3-compatible endpoint and ensures the
// configured bucket exists.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return NewWithAPI(ctx, minioAPI{client: client}, cfg.Bucket, cfg.OperationTimeout, logger)
}

// NewWithAPI creates a Store on an existing ObjectAPI and ensures the bucket
// exists. Used directly by tests.
func NewWithAPI(ctx context.Context, api ObjectAPI, bucket string, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Store{
		api:     api,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.With("component", "storage"),
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the bucket if it does not exist. A creation race where
// another process wins is treated as success.
func (s *Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		s.logger.Debug("Bucket exists", "bucket", s.bucket)
		return nil
	}

	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			s.logger.Debug("Bucket created concurrently by another process", "bucket", s.bucket)
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}

	s.logger.Info("Bucket created", "bucket", s.bucket)
	return nil
}

// Key derives the content-addressed object key for a hex SHA-256 digest and
// an optional original filename whose extension is preserved. The layout
// media/<h[0:2]>/<h[2:4]>/<hash><ext> is a stable external contract.
func Key(sha256Hex, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return fmt.Sprintf("%s/%s/%s/%s%s", keyPrefix, sha256Hex[:2], sha256Hex[2:4], sha256Hex, ext)
}

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes data under its content-addressed key and returns the key and
// the hex digest. Writing identical bytes twice produces the same key and
// overwrites the object with identical content, so the operation is
// idempotent and safe to retry.
func (s *Store) Put(ctx context.Context, data []byte, originalName, contentType string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	digest := HashBytes(data)
	key := Key(digest, originalName)

	if contentType == "" {
		contentType = detectContentType(originalName, data)
	}

	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error writing object", "key", key, "error", err)
		return "", "", fmt.Errorf("failed to write object %q: %w", key, err)
	}

	s.logger.DebugContext(ctx, "Object written",
		"key", key, "size", len(data), "content_type", contentType)
	return key, digest, nil
}

// Get reads the full object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	defer func() {
		if closeErr := obj.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "Error closing object reader", "key", key, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}

	return data, nil
}

// Exists reports whether an object is stored at key. A missing object
// returns false with no error; transport failures are reported as errors.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %q: %w", key, err)
	}

	return true, nil
}

// Delete removes the object at key. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}

	return nil
}

// detectContentType resolves a content type from the filename extension,
// falling back to content sniffing.
func detectContentType(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}
