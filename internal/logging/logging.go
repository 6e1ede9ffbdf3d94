// Package logging は設定から slog.Logger を構築します。
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options はロガーの設定です。
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	Service string
	Output  io.Writer
}

// New は Options から slog.Logger を構築します。service 属性を常に付けます。
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

// ParseLevel は LOG_LEVEL の値を slog.Level に変換します。未知の値は info です。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
