package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	appDirName  = "seatctl"
	logFileName = "seatctl.log"
)

type Options struct {
	Level string
	// Stderr sends logs to stderr instead of the log file. The TUI owns the
	// terminal, so only headless commands should set it.
	Stderr bool
	// Path overrides the default log file location.
	Path string
}

// New builds a JSON logger. The caller must Sync it before exit.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	if opts.Stderr {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	path := opts.Path
	if path == "" {
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}

// DefaultPath is the log file under the user cache directory.
func DefaultPath() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName, logFileName), nil
}

// ParseLevel accepts zap level names; empty means info.
func ParseLevel(raw string) (zapcore.Level, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
