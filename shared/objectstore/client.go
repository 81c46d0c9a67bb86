package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when the key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// Config holds S3 compatible storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Filename    string
}

// Client stores uploads and materialized media in a single bucket
type Client struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewClient creates a MinIO client for cfg.Bucket
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{client: mc, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	c.logger.Info("Bucket created", slog.String("bucket", c.bucket))
	return nil
}

// PutObject uploads r under key
func (c *Client) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return c.PutFile(ctx, key, "", r, size, contentType)
}

// PutFile uploads r under key and remembers the original file name
func (c *Client) PutFile(ctx context.Context, key, filename string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if filename != "" {
		opts.UserMetadata = map[string]string{"filename": filename}
	}

	if _, err := c.client.PutObject(ctx, c.bucket, key, r, size, opts); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Stat returns metadata of key
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return &ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		Filename:    info.UserMetadata["Filename"],
	}, nil
}

// GetObject reads the whole object, bounded by maxBytes
func (c *Client) GetObject(ctx context.Context, key string, maxBytes int64) ([]byte, *ObjectInfo, error) {
	info, err := c.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return nil, nil, fmt.Errorf("object %s is %d bytes, limit is %d", key, info.Size, maxBytes)
	}

	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, info, nil
}

// PresignedGetURL returns a time limited download URL for key
func (c *Client) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

// RemoveObject deletes key
func (c *Client) RemoveObject(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("object storage health check failed: %w", err)
	}
	return nil
}
