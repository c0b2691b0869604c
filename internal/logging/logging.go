// Package logging builds the slog logger shared by all commands. Records go
// to a daily JSON file; debug mode also mirrors them to stderr. Hook
// invocations must keep stdout clean, so nothing is written there.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options configures New
type Options struct {
	// Dir receives sync-YYYY-MM-DD.log. Empty disables file logging.
	Dir   string
	Debug bool

	// Stderr overrides os.Stderr for the debug mirror
	Stderr io.Writer
	Now    func() time.Time
}

// Logger is a slog.Logger plus the file it writes to
type Logger struct {
	*slog.Logger
	file *os.File
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New creates the logger. Failing to open the log file is not fatal: the
// logger still works, and the error is returned for the caller to report.
func New(opts Options) (*Logger, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var (
		handlers []slog.Handler
		file     *os.File
		fileErr  error
	)
	if opts.Dir != "" {
		file, fileErr = openLogFile(opts.Dir, opts.Now)
		if fileErr == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, handlerOpts))
		}
	}
	if opts.Debug {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = fanout(handlers)
	}
	return &Logger{Logger: slog.New(handler), file: file}, fileErr
}

// FileName returns the log file name for a day
func FileName(day time.Time) string {
	return fmt.Sprintf("sync-%s.log", day.Format("2006-01-02"))
}

func openLogFile(dir string, now func() time.Time) (*os.File, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, FileName(now())), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// fanout sends every record to each handler that accepts its level
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
