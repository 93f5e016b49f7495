// Package observability builds the structured loggers and the optional trace
// pipeline shared by every paneld daemon.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

const redactedValue = "[REDACTED]"

// Config selects the level, format, and sinks of a paneld logger and the
// attributes stamped on every record.
type Config struct {
	Level  string
	Format string
	// LogFile is the daemon's log on flash; empty logs to stderr only.
	LogFile string
	// StderrMode is auto, on, or off. Auto writes to stderr only when there
	// is no LogFile, which keeps a backgrounded daemon off the console.
	StderrMode string
	SessionID  string
	Daemon     string
	Version    string
	Commit     string

	// MaxBytes and MaxBackups bound LogFile. Zero means the defaults.
	MaxBytes   int64
	MaxBackups int
}

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Credentials from the broker and upload sections must never reach flash.
var sensitiveKeyParts = []string{"passwd", "password", "token", "secret", "credential"}

type loggerKey struct{}

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}

	return slog.Default()
}

// NewLogger builds the logger of one paneld process. The returned func
// closes the log file, if any.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	level, ok := logLevels[normalize(cfg.Level)]
	if !ok {
		return nil, nil, fmt.Errorf("invalid log level: %q (allowed: error, warn, info, debug)", cfg.Level)
	}

	newHandler, err := handlerFor(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	sink, closeSink, err := openSinks(cfg)
	if err != nil {
		return nil, nil, err
	}

	handler := newHandler(sink, &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr})

	logger := slog.New(handler).With(
		slog.String("session.id", cfg.SessionID),
		slog.String("daemon", cfg.Daemon),
		slog.String("paneld.version", cfg.Version),
		slog.String("paneld.commit", cfg.Commit),
	)

	return logger, closeSink, nil
}

type handlerFunc func(io.Writer, *slog.HandlerOptions) slog.Handler

func handlerFor(format string) (handlerFunc, error) {
	switch normalize(format) {
	case "", "json":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) }, nil
	case "text":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) }, nil
	default:
		return nil, fmt.Errorf("invalid log format: %q (allowed: json, text)", format)
	}
}

func openSinks(cfg *Config) (io.Writer, func() error, error) {
	path := strings.TrimSpace(cfg.LogFile)

	toStderr, err := stderrWanted(cfg.StderrMode, path != "")
	if err != nil {
		return nil, nil, err
	}

	if path == "" {
		if !toStderr {
			return nil, nil, fmt.Errorf("no log sinks configured: set --log-file or enable --log-stderr")
		}

		return os.Stderr, func() error { return nil }, nil
	}

	file, err := newRotatingFile(path, cfg.MaxBytes, cfg.MaxBackups).open()
	if err != nil {
		return nil, nil, err
	}

	if toStderr {
		return io.MultiWriter(os.Stderr, file), file.Close, nil
	}

	return file, file.Close, nil
}

func stderrWanted(mode string, hasFile bool) (bool, error) {
	switch normalize(mode) {
	case "", "auto":
		return !hasFile, nil
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --log-stderr value %q (allowed: auto, on, off)", mode)
	}
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)

	if slices.ContainsFunc(sensitiveKeyParts, func(part string) bool { return strings.Contains(key, part) }) {
		return slog.String(attr.Key, redactedValue)
	}

	return attr
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
