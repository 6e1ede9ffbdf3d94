package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig は MinIO への接続設定です。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Minio は minio-go を使うドライバです。
type Minio struct {
	client *minio.Client
}

// NewMinio は MinIO クライアントを構築します。
func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	return &Minio{client: client}, nil
}

// EnsureBuckets は存在しないバケットを作成します。
func (m *Minio) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, b := range buckets {
		exists, err := m.client.BucketExists(ctx, b)
		if err != nil {
			return fmt.Errorf("minio bucket check %s: %w", b, err)
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, b, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("minio make bucket %s: %w", b, err)
		}
	}
	return nil
}

func (m *Minio) Put(ctx context.Context, bucket string, data []byte, mimeType string) (string, error) {
	key := NewKey(mimeType)
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("minio put %s/%s: %w", bucket, key, err)
	}
	return key, nil
}

func (m *Minio) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("minio read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete %s/%s: %w", bucket, key, err)
	}
	return nil
}
