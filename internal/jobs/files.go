package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/storage"
)

// Upload はアップロードされた入力ファイルです。MimeType が空なら内容から判定します。
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
	UserID   *string
}

// UploadFile はオブジェクトを保存してから File 行を作成します。
// 行の作成に失敗した場合は保存したオブジェクトを削除します。
func (o *Orchestrator) UploadFile(ctx context.Context, bucket string, up Upload) (*models.File, error) {
	if o.storage == nil {
		return nil, errors.New("storage is not configured")
	}
	if len(up.Data) == 0 {
		return nil, newValidationError("file", "file is empty", nil)
	}
	name := filepath.Base(strings.TrimSpace(up.Name))
	if name == "" || name == "." || name == "/" {
		return nil, newValidationError("file", "file name is required", nil)
	}
	mimeType := strings.TrimSpace(up.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = storage.DetectMIME(up.Data)
	}

	key, err := o.storage.Put(ctx, bucket, up.Data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	now := o.now()
	file := &models.File{
		ID:           uuid.NewString(),
		Name:         key,
		OriginalName: name,
		Size:         int64(len(up.Data)),
		MimeType:     mimeType,
		Bucket:       bucket,
		StorageKey:   key,
		Type:         models.FileTypeInput,
		ExpiresAt:    now.Add(o.retention),
		UserID:       up.UserID,
		CreatedAt:    now,
	}
	if err := o.store.CreateFile(ctx, file); err != nil {
		if derr := o.storage.Delete(context.WithoutCancel(ctx), bucket, key); derr != nil {
			o.logger.Warn("failed to delete orphaned upload", "bucket", bucket, "key", key, "error", derr)
		}
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	o.logger.Info("file uploaded", "file_id", file.ID, "size", file.Size, "mime_type", mimeType)
	return file, nil
}

// OpenFile はファイルのメタデータと内容を返します。期限切れのファイルは ErrNotFound です。
func (o *Orchestrator) OpenFile(ctx context.Context, fileID string) (*models.File, []byte, error) {
	if o.storage == nil {
		return nil, nil, errors.New("storage is not configured")
	}
	files, err := o.store.GetFiles(ctx, []string{fileID})
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	file := files[0]
	if !file.ExpiresAt.IsZero() && o.now().After(file.ExpiresAt) {
		return nil, nil, fmt.Errorf("file %s expired: %w", fileID, ErrNotFound)
	}
	data, err := o.storage.Get(ctx, file.Bucket, file.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("object for file %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return file, data, nil
}
