package cmd

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codemie-ai/codemie-sync/internal/correlate"
	"github.com/codemie-ai/codemie-sync/internal/lock"
	"github.com/codemie-ai/codemie-sync/internal/provider"
	"github.com/codemie-ai/codemie-sync/internal/session"
	"github.com/codemie-ai/codemie-sync/internal/snapshot"
	"github.com/codemie-ai/codemie-sync/internal/syncstate"
	"github.com/codemie-ai/codemie-sync/internal/watch"
)

const lockRetryDelay = 250 * time.Millisecond

// tracker follows one wrapped agent session: it correlates the transcript,
// then keeps the session synced until the agent exits
type tracker struct {
	app         *app
	provider    provider.Provider
	sess        *session.Session
	dir         string
	snapshotter *snapshot.Snapshotter
	logger      *slog.Logger

	before snapshot.Snapshot

	mu          sync.Mutex
	correlation session.Correlation
}

func newTracker(a *app, p provider.Provider, sess *session.Session, dir string) *tracker {
	return &tracker{
		app:         a,
		provider:    p,
		sess:        sess,
		dir:         dir,
		snapshotter: snapshot.New(a.logger),
		logger:      a.logger.With("session_id", sess.SessionID, "provider", p.Name()),
		correlation: session.Correlation{Status: session.CorrelationPending},
	}
}

func (t *tracker) takeBefore() {
	before, err := t.snapshotter.Take(t.dir)
	if err != nil {
		t.logger.Warn("failed to snapshot sessions directory", "dir", t.dir, "error", err)
	}
	t.before = before
}

func (t *tracker) takeSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return t.snapshotter.Take(t.dir)
}

func (t *tracker) correlator() *correlate.Correlator {
	cc := t.app.cfg.Correlation
	return correlate.New(t.provider, t.sess.WorkingDirectory,
		correlate.WithDelays(correlate.BackoffSchedule(cc.InitialDelay, cc.MaxDelay, cc.Attempts)),
		correlate.WithLogger(t.logger))
}

// track runs while the agent is alive
func (t *tracker) track(ctx context.Context) {
	after, err := t.takeSnapshot(ctx)
	if err != nil {
		t.logger.Warn("failed to snapshot sessions directory", "dir", t.dir, "error", err)
		after = t.before
	}

	result, err := t.correlator().CorrelateWithRetry(ctx, correlate.Input{Before: t.before, After: after}, t.takeSnapshot)
	if err != nil {
		// Left pending: the agent exited first and finish retries once
		t.logger.Debug("correlation interrupted", "error", err)
		return
	}
	t.record(ctx, result)
	if !t.matched() {
		return
	}

	t.sync(ctx)
	w, err := watch.New(t.current().AgentSessionFile, t.app.cfg.Debounce, t.app.cfg.SyncInterval, t.sync, t.logger)
	if err != nil {
		t.logger.Warn("failed to start transcript watcher", "error", err)
		return
	}
	if err := w.Run(ctx); err != nil {
		t.logger.Warn("transcript watcher stopped", "error", err)
	}
}

// finish runs after the agent exits: a last correlation attempt if the
// transcript was never found, a final pass and the terminal status
func (t *tracker) finish(ctx context.Context, exitCode int) {
	t.refresh()
	if !t.matched() {
		after, err := t.snapshotter.Take(t.dir)
		if err != nil {
			t.logger.Warn("failed to snapshot sessions directory", "dir", t.dir, "error", err)
		}
		prev := t.current()
		result := t.correlator().Correlate(snapshot.Diff(t.before, after))
		result.RetryCount = prev.RetryCount
		if result.Status == session.CorrelationPending {
			result.Status = session.CorrelationFailed
		}
		if result.Status == session.CorrelationMatched || prev.Status == session.CorrelationPending {
			t.record(ctx, result)
		}
	}
	if t.matched() {
		t.sync(ctx)
	}
	t.complete(ctx, exitCode)
}

func (t *tracker) sync(ctx context.Context) {
	report, err := t.app.syncer.Sync(ctx, t.sess.SessionID)
	if err != nil {
		t.logger.Warn("sync pass failed", "error", err)
		return
	}
	if report.Skipped {
		t.logger.Debug("sync pass skipped", "reason", report.SkipReason)
		return
	}
	t.logger.Debug("sync pass done", "deltas", report.Deltas, "new_turns", report.NewTurns,
		"continuations", report.Continuations, "last_line", report.LastLine)
}

// record persists a correlation outcome and, once matched, initializes the
// sync state for the agent's session id. A matched correlation already
// saved, for example adopted by a hook, is never replaced by an unmatched one.
func (t *tracker) record(ctx context.Context, result session.Correlation) {
	kept := false
	err := t.withLock(ctx, func() error {
		sess, err := t.app.sessions.Load(t.sess.SessionID)
		if err != nil || sess == nil {
			return err
		}
		if saved := sess.Correlation; saved != nil && saved.Status == session.CorrelationMatched &&
			result.Status != session.CorrelationMatched {
			result = *saved
			kept = true
			return nil
		}
		c := result
		sess.Correlation = &c
		if err := t.app.sessions.Save(sess); err != nil {
			return err
		}
		if result.Status != session.CorrelationMatched {
			return nil
		}
		mgr := syncstate.NewManager(t.app.sessions, t.sess.SessionID, t.app.logger)
		_, err = mgr.Initialize(result.AgentSessionID, t.sess.StartTime)
		return err
	})

	t.mu.Lock()
	t.correlation = result
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("failed to persist correlation", "status", result.Status, "error", err)
		return
	}
	if kept {
		t.logger.Debug("keeping saved correlation", "path", result.AgentSessionFile)
		return
	}
	t.app.telemetry.Correlations.WithLabelValues(t.provider.Name(), string(result.Status)).Inc()
	t.app.telemetry.CorrelationRetries.Observe(float64(result.RetryCount))
	t.logger.Info("correlation recorded", "status", result.Status,
		"agent_session_id", result.AgentSessionID, "retry_count", result.RetryCount)
}

// refresh adopts a matched correlation saved by another process
func (t *tracker) refresh() {
	sess, err := t.app.sessions.Load(t.sess.SessionID)
	if err != nil || sess == nil || sess.Correlation == nil {
		return
	}
	if sess.Correlation.Status == session.CorrelationMatched {
		t.mu.Lock()
		t.correlation = *sess.Correlation
		t.mu.Unlock()
	}
}

// complete stamps the terminal session status
func (t *tracker) complete(ctx context.Context, exitCode int) {
	status := session.StatusCompleted
	if exitCode != 0 {
		status = session.StatusFailed
	}
	err := t.withLock(ctx, func() error {
		found, err := t.app.sessions.Update(t.sess.SessionID, func(s *session.Session) {
			end := time.Now()
			code := exitCode
			s.EndTime = &end
			s.ExitCode = &code
			s.Status = status
		})
		if err != nil || !found {
			return err
		}
		return syncstate.NewManager(t.app.sessions, t.sess.SessionID, t.app.logger).UpdateStatus(status)
	})
	if err != nil {
		t.logger.Warn("failed to record session end", "error", err)
	}
}

// withLock retries a busy session lock until it would have gone stale
func (t *tracker) withLock(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(t.app.cfg.LockStaleAfter)
	for {
		err := t.app.locker.WithLock(t.sess.SessionID, fn)
		if !errors.Is(err, lock.ErrBusy) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (t *tracker) current() session.Correlation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.correlation
}

func (t *tracker) matched() bool {
	return t.current().Status == session.CorrelationMatched
}
