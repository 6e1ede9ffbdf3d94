package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local はローカルファイルシステムへ保存するドライバです（開発環境用）。
// 保存先: <root>/<bucket>/<key>
type Local struct {
	root string
}

// NewLocal は root 配下にバケットディレクトリを作るドライバを返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("bucket and key are required")
	}
	if strings.Contains(bucket, "..") || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid object path: %s/%s", bucket, key)
	}
	return filepath.Join(l.root, bucket, key), nil
}

func (l *Local) Put(ctx context.Context, bucket string, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey(mimeType)
	dst, err := l.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bucket dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to commit object: %w", err)
	}
	return key, nil
}

func (l *Local) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := l.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete は存在しないオブジェクトに対してもエラーを返しません。
func (l *Local) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := l.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
