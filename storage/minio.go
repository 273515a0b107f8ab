package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient wraps the MinIO client with bucket management
type MinIOClient struct {
	client *minio.Client
}

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(config MinIOConfig) (*MinIOClient, error) {
	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinIOClient{client: minioClient}, nil
}

// EnsureBucket creates a bucket if it doesn't exist
func (m *MinIOClient) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		log.Printf("Creating MinIO bucket: %s", bucketName)
		if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Upload writes an object to a bucket, creating the bucket if needed
func (m *MinIOClient) Upload(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	if err := m.EnsureBucket(ctx, bucketName); err != nil {
		return err
	}

	_, err := m.client.PutObject(ctx, bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	log.Printf("Object uploaded: %s/%s (%d bytes)", bucketName, objectName, len(data))
	return nil
}

// Download reads an object's raw bytes from a bucket
func (m *MinIOClient) Download(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// PresignedURL returns a time-limited download URL for an object
func (m *MinIOClient) PresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, bucketName, objectName, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to create presigned URL: %w", err)
	}
	return u.String(), nil
}

// DeleteObject deletes an object from a bucket
func (m *MinIOClient) DeleteObject(ctx context.Context, bucketName, objectName string) error {
	if err := m.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	log.Printf("Object deleted: %s/%s", bucketName, objectName)
	return nil
}
