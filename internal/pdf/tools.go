package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"unicode/utf8"
)

const toolOutputLimit = 512

// runTool は外部コマンドを実行します。
// コマンドが起動できない場合は一時的なエラー、異常終了した場合は *Error を返します。
func (s *Service) runTool(ctx context.Context, name, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.logger.Debug("running external tool", "tool", name, "args", args)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s is not available at %q: %w", name, path, err)
		}
		return newError(CodeToolFailed, fmt.Sprintf("%s failed: %s", name, tail(output.String())), err)
	}
	return nil
}

func tail(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return "no output"
	}
	if len(out) > toolOutputLimit {
		// マルチバイト文字の途中から切り出さない
		i := len(out) - toolOutputLimit
		for i < len(out) && !utf8.RuneStart(out[i]) {
			i++
		}
		out = "..." + out[i:]
	}
	return out
}
