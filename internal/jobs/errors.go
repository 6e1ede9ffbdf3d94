package jobs

import (
	"errors"
	"fmt"

	"github.com/yourusername/docforge/internal/store"
)

var (
	// ErrNotFound はジョブが存在しない場合に返されます。
	ErrNotFound = store.ErrNotFound
	// ErrDispatchGap はジョブは保存されたがキュー投入に失敗したことを表します。ジョブは UPLOADED のまま残ります。
	ErrDispatchGap = errors.New("job persisted but dispatch failed")
	// ErrInvalidTransition は状態機械に反する更新です。
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleLease は既に置き換えられたリースからの書き込みです。
	ErrStaleLease = errors.New("stale lease")
)

// ValidationError はジョブ作成リクエストの不備です。この場合ジョブは保存されません。
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// IsValidation は err が ValidationError を含むか判定します。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
