// Package correlate matches files created after an agent launch to the
// session expected to have produced them.
package correlate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/codemie-ai/codemie-sync/internal/session"
	"github.com/codemie-ai/codemie-sync/internal/snapshot"
)

// Result is the persisted correlation outcome
type Result = session.Correlation

// Matcher is the part of a provider plugin the correlator needs
type Matcher interface {
	// MatchesSessionPattern reports whether path looks like a transcript
	MatchesSessionPattern(path string) bool
	// ExtractSessionID derives the agent-side session id from a transcript path
	ExtractSessionID(path string) string
}

// Input holds the snapshots taken around the agent launch
type Input struct {
	Before snapshot.Snapshot
	After  snapshot.Snapshot
}

// SnapshotFunc takes a fresh snapshot of the watched directory
type SnapshotFunc func(ctx context.Context) (snapshot.Snapshot, error)

// Correlator finds the transcript file for one session
type Correlator struct {
	matcher    Matcher
	workingDir string
	delays     []time.Duration
	logger     *slog.Logger

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	readFile func(path string) ([]byte, error)
}

// Option configures a Correlator
type Option func(*Correlator)

// WithDelays sets the retry delay schedule. Its length is the retry budget.
func WithDelays(delays []time.Duration) Option {
	return func(c *Correlator) {
		c.delays = append([]time.Duration(nil), delays...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a correlator for transcripts written from workingDir
func New(matcher Matcher, workingDir string, opts ...Option) *Correlator {
	c := &Correlator{
		matcher:    matcher,
		workingDir: workingDir,
		delays:     DefaultDelays(),
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		sleep:      sleepContext,
		readFile:   os.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correlate runs a single matching attempt over the newly created files.
//
// The working-directory filter is a plain substring search over the whole
// file. It separates concurrent sessions started from different directories
// but can false-match a file that merely mentions the path; it is best
// effort only.
func (c *Correlator) Correlate(candidates []snapshot.FileInfo) Result {
	if len(candidates) == 0 {
		return Result{Status: session.CorrelationPending}
	}

	var matches []snapshot.FileInfo
	for _, f := range candidates {
		if c.matcher.MatchesSessionPattern(f.Path) {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		c.logger.Debug("no candidate matches session pattern", "candidates", len(candidates))
		return Result{Status: session.CorrelationFailed}
	}

	chosen := matches[0]
	if c.workingDir != "" {
		found := false
		for _, f := range matches {
			data, err := c.readFile(f.Path)
			if err != nil {
				c.logger.Debug("cannot read candidate", "path", f.Path, "error", err)
				continue
			}
			if bytes.Contains(data, []byte(c.workingDir)) {
				chosen = f
				found = true
				break
			}
		}
		if !found {
			c.logger.Warn("no candidate mentions working directory, using first pattern match",
				"working_dir", c.workingDir, "path", chosen.Path, "matches", len(matches))
		}
	}

	detected := c.now()
	return Result{
		Status:           session.CorrelationMatched,
		AgentSessionFile: chosen.Path,
		AgentSessionID:   c.matcher.ExtractSessionID(chosen.Path),
		DetectedAt:       &detected,
	}
}

// CorrelateWithRetry correlates once and, if that does not match, retries
// following the delay schedule. Each retry takes a fresh snapshot and diffs
// it against the original before-snapshot, so new files accumulate across
// attempts. Exhausting the schedule yields a terminal failed result.
func (c *Correlator) CorrelateWithRetry(ctx context.Context, in Input, takeSnapshot SnapshotFunc) (Result, error) {
	result := c.Correlate(snapshot.Diff(in.Before, in.After))
	if result.Status == session.CorrelationMatched {
		return result, nil
	}

	for attempt := 1; attempt <= len(c.delays); attempt++ {
		delay := c.delays[attempt-1]
		c.logger.Debug("transcript not found yet, retrying",
			"attempt", attempt, "of", len(c.delays), "delay", delay, "last_status", result.Status)

		if err := c.sleep(ctx, delay); err != nil {
			return Result{Status: session.CorrelationFailed, RetryCount: attempt - 1}, err
		}

		after, err := takeSnapshot(ctx)
		if err != nil {
			return Result{Status: session.CorrelationFailed, RetryCount: attempt}, fmt.Errorf("retry snapshot: %w", err)
		}

		result = c.Correlate(snapshot.Diff(in.Before, after))
		result.RetryCount = attempt
		if result.Status == session.CorrelationMatched {
			c.logger.Info("transcript correlated", "path", result.AgentSessionFile, "retry_count", attempt)
			return result, nil
		}
	}

	c.logger.Warn("correlation failed, metrics disabled for session", "attempts", len(c.delays)+1)
	return Result{Status: session.CorrelationFailed, RetryCount: len(c.delays)}, nil
}

// DefaultDelays is the 500ms→32s capped exponential schedule, about 1.6
// minutes in total.
func DefaultDelays() []time.Duration {
	return BackoffSchedule(500*time.Millisecond, 32*time.Second, 8)
}

// BackoffSchedule doubles from initial, capping each delay at max
func BackoffSchedule(initial, max time.Duration, attempts int) []time.Duration {
	if attempts <= 0 || initial <= 0 {
		return nil
	}
	if max < initial {
		max = initial
	}
	delays := make([]time.Duration, 0, attempts)
	d := initial
	for i := 0; i < attempts; i++ {
		delays = append(delays, d)
		if d < max {
			d *= 2
			if d > max {
				d = max
			}
		}
	}
	return delays
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
