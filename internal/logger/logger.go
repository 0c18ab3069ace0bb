package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"

	// FilePrefix names the daily log files written under the log directory.
	FilePrefix = "banksync_"
)

// Options controls where log output goes.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Empty means info.
	Level string
	// Dir, when set, receives a daily JSON log file next to the console output.
	Dir string
	// Now is used to pick the daily file name; defaults to time.Now.
	Now func() time.Time
}

// New creates a new structured logger with default configuration
func New() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// NewWithWriter creates a new structured logger with a custom writer
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// Setup builds the process logger from opts. The returned closer releases the
// log file, if one was opened.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("Setup: invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if opts.Dir == "" {
		return zerolog.New(console).Level(level).With().Timestamp().Logger(), io.NopCloser(nil), nil
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	f, err := OpenDailyFile(opts.Dir, now())
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("Setup: %w", err)
	}

	w := zerolog.MultiLevelWriter(console, f)
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), f, nil
}

// OpenDailyFile opens (appending) the log file for the day of at.
func OpenDailyFile(dir string, at time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, DailyFileName(at))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// DailyFileName returns e.g. banksync_20240517.log.
func DailyFileName(at time.Time) string {
	return FilePrefix + at.Format("20060102") + ".log"
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
