package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel parses DEBUG, INFO, WARNING (or WARN) and ERROR, case-insensitively
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
}

// NewLogHandler builds the slog handler described by cfg writing to w
func NewLogHandler(cfg LogConfig, w io.Writer) slog.Handler {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if strings.ToLower(cfg.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// InitLogger installs the default logger. With cfg.File set, output goes to a
// size-rotated file; the returned closer releases it.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out, closer = rotated, rotated
	}

	slog.SetDefault(slog.New(NewLogHandler(cfg, out)))

	slog.Info("Logger initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"file", cfg.File,
	)
	return closer, nil
}
