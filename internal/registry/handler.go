package registry

import (
	"context"
	"errors"

	"github.com/yourusername/docforge/internal/params"
)

// FileDescriptor はハンドラに渡す入力ファイルの情報です。
type FileDescriptor struct {
	ID           string
	Bucket       string
	StorageKey   string
	OriginalName string
	MimeType     string
	Size         int64
}

// Output はハンドラが返す出力ファイルです。
type Output struct {
	Data          []byte
	MimeType      string
	SuggestedName string
}

// Request はハンドラ1回分の入力です。
// Progress は 0〜100 のチェックポイントを報告し、ScratchDir はこの実行専用の一時ディレクトリです。
type Request struct {
	JobID      string
	Inputs     []FileDescriptor
	Params     params.Params
	Fetch      func(ctx context.Context, f FileDescriptor) ([]byte, error)
	Progress   func(percent int)
	ScratchDir string
}

// HandlerFunc はジョブ種別ごとの変換処理です。
type HandlerFunc func(ctx context.Context, req *Request) ([]Output, error)

// PermanentError は再試行しても結果が変わらないエラーです。
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent は err を再試行不可としてマークします。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent は err が再試行不可としてマークされているか判定します。
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ReportProgress は Progress が設定されていれば呼び出します。
func (r *Request) ReportProgress(percent int) {
	if r != nil && r.Progress != nil {
		r.Progress(percent)
	}
}
