package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger logs to stdout through tint and, when logFile is set, to that
// file as plain text. The returned closer releases the file.
func NewLogger(logFile string, level slog.Level) (*slog.Logger, io.Closer, error) {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	if logFile == "" {
		return slog.New(stdoutHandler), nopCloser{}, nil
	}

	if err := EnsureParent(logFile); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(NewMultiLogHandler(stdoutHandler, fileHandler)), file, nil
}
