// Package watch triggers extraction passes when a transcript changes, with a
// periodic fallback for filesystems that drop events.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TranscriptWatcher calls a trigger after writes to one file settle
type TranscriptWatcher struct {
	path     string
	debounce time.Duration
	interval time.Duration
	trigger  func(ctx context.Context)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// New watches path. trigger runs on the watcher goroutine, debounce after the
// last change and every interval regardless. A zero interval disables the
// periodic trigger.
func New(path string, debounce, interval time.Duration, trigger func(ctx context.Context), logger *slog.Logger) (*TranscriptWatcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &TranscriptWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		interval: interval,
		trigger:  trigger,
		logger:   logger,
		watcher:  watcher,
	}, nil
}

// Run blocks until ctx is done. The parent directory is watched so files
// replaced by rename are still followed.
func (w *TranscriptWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch transcript directory, polling only", "dir", dir, "error", err)
	} else {
		w.logger.Debug("watching transcript", "path", w.path)
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce.Reset(w.debounce)
			pending = debounce.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("transcript watcher error", "error", err)

		case <-pending:
			pending = nil
			w.trigger(ctx)

		case <-tick:
			w.trigger(ctx)

		case <-ctx.Done():
			w.logger.Debug("transcript watcher stopping")
			return nil
		}
	}
}
