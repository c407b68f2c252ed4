package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/lattice-waves/internal/config"
)

// FileName is the diagnostic log kept under .lattice/logs/.
const FileName = "lattice-waves.log"

// Logger writes leveled, structured lines so users can inspect failures after
// the terminal session is gone. It satisfies delegation.Warner and the
// eventbridge Printf logger.
type Logger struct {
	*log.Logger
	file *os.File
}

// Options configures a Logger.
type Options struct {
	Level string
	JSON  bool
}

// New creates (or reuses) the log file under cfg's logs directory.
func New(cfg *config.Config) (*Logger, error) {
	logDir := cfg.LogsDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	logger, err := NewWriter(f, Options{Level: cfg.Settings.Log.Level, JSON: cfg.Settings.Log.JSON})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	logger.file = f
	return logger, nil
}

// NewWriter builds a Logger over an arbitrary writer (stderr, buffers in tests).
func NewWriter(w io.Writer, opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
		Prefix:          "lattice-waves",
	})
	if opts.JSON {
		logger.SetFormatter(log.JSONFormatter)
	} else {
		logger.SetFormatter(log.TextFormatter)
	}
	return &Logger{Logger: logger}, nil
}

// Discard returns a Logger that drops every line.
func Discard() *Logger {
	return &Logger{Logger: log.NewWithOptions(io.Discard, log.Options{})}
}

// ParseLevel maps a config level name onto a charm log level. Empty means info.
func ParseLevel(raw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("logging: unknown level %q", raw)
	}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
