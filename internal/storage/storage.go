// Package storage はオブジェクトストレージの抽象化レイヤーを提供します。
// ドライバは S3 互換 (aws-sdk-go-v2)、MinIO (minio-go)、ローカルファイルシステムの3種類です。
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrNotFound はオブジェクトが存在しない場合に返されます。
var ErrNotFound = errors.New("object not found")

// Adapter はバケットとキーでオブジェクトを保存・取得・削除します。
// Put はキーを採番して返し、同じキーが2つのオブジェクトを指すことはありません。
type Adapter interface {
	Put(ctx context.Context, bucket string, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// NewKey は MIME タイプから拡張子を決めてストレージキーを生成します。
func NewKey(mimeType string) string {
	return uuid.NewString() + extensionFor(mimeType)
}

func extensionFor(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}

// DetectMIME は data の先頭から MIME タイプを判定します。
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}
