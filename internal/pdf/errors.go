package pdf

import (
	"errors"
	"fmt"
	"strings"
)

// エラーコード
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnsupportedPDF    = "UNSUPPORTED_PDF"
	CodeIncorrectPassword = "INCORRECT_PASSWORD"
	CodeToolFailed        = "TOOL_FAILED"
)

// Error は入力や変換結果に起因するエラーです。同じ入力で再試行しても結果は変わりません。
// Message はジョブの error 列にそのまま保存されます。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode は err が指定コードの *Error を含むか判定します。
func IsCode(err error, code string) bool {
	var pdfErr *Error
	return errors.As(err, &pdfErr) && pdfErr.Code == code
}

func incorrectPassword(err error) *Error {
	return newError(CodeIncorrectPassword, "Incorrect password", err)
}

// readError は pdfcpu の読み込みエラーを分類します。パスワード関連は INCORRECT_PASSWORD になります。
func readError(message string, err error) *Error {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "password") {
		return incorrectPassword(err)
	}
	return newError(CodeUnsupportedPDF, message, err)
}
