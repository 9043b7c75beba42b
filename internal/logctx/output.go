package logctx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the root logger built by New.
type Options struct {
	Level      slog.Level
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// New builds the JSON root logger. Records carry trace ids when a span is active.
// When File cannot be prepared the logger writes to stdout and the returned error
// describes why; callers are expected to log it as a warning and carry on.
func New(opts Options) (*slog.Logger, error) {
	out, outErr := buildOutput(opts)

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})

	return slog.New(NewTraceHandler(handler)), outErr
}

func buildOutput(opts Options) (io.Writer, error) {
	if opts.File == "" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(opts.File)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}, nil
}
