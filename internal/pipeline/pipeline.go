// Package pipeline runs extraction passes: read the correlated transcript,
// emit metric deltas past the watermark and bring the canonical
// conversation up to date, all under the session lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/codemie-ai/codemie-sync/internal/conversation"
	"github.com/codemie-ai/codemie-sync/internal/lock"
	"github.com/codemie-ai/codemie-sync/internal/metrics"
	"github.com/codemie-ai/codemie-sync/internal/provider"
	"github.com/codemie-ai/codemie-sync/internal/session"
	"github.com/codemie-ai/codemie-sync/internal/syncstate"
	"github.com/codemie-ai/codemie-sync/internal/telemetry"
)

// ErrSessionNotFound is returned for a session id with no metadata document
var ErrSessionNotFound = errors.New("session not found")

// Skip reasons reported for passes that did no work
const (
	SkipLockBusy      = "lock busy"
	SkipNotCorrelated = "transcript not correlated"
	SkipDisabled      = "provider disabled"
)

// Report summarizes one extraction pass
type Report struct {
	SessionID  string `json:"session_id"`
	Provider   string `json:"provider,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	Deltas       int `json:"deltas"`
	DeltasFailed int `json:"deltas_failed"`
	LastLine     int `json:"last_line"`

	NewTurns      int                    `json:"new_turns"`
	Continuations int                    `json:"continuations"`
	Watermark     conversation.Watermark `json:"watermark"`
}

// Options wires a Syncer
type Options struct {
	Sessions      *session.Store
	Locker        *lock.Locker
	Providers     *provider.Registry
	Sink          metrics.Sink
	Conversations *conversation.Store
	Telemetry     *telemetry.Metrics
	Logger        *slog.Logger

	// Enabled reports whether a provider's pipeline is switched on. Nil
	// enables every provider.
	Enabled func(provider string) bool
}

// Syncer runs extraction passes
type Syncer struct {
	opts        Options
	logger      *slog.Logger
	transformer *conversation.Transformer
	group       singleflight.Group
}

// New creates a Syncer
func New(opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Conversations == nil {
		opts.Conversations = conversation.NewStore(opts.Sessions.ConversationPath)
	}
	if opts.Sink == nil {
		opts.Sink = metrics.NewOutboxSink(opts.Sessions.MetricsPath)
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.New()
	}
	return &Syncer{
		opts:        opts,
		logger:      logger,
		transformer: conversation.NewTransformer(logger),
	}
}

// Sync runs one extraction pass for a session. Concurrent calls for the same
// session in this process share one pass; other processes are kept out by
// the session lock, and a busy lock is reported as a skipped pass.
func (s *Syncer) Sync(ctx context.Context, sessionID string) (Report, error) {
	v, err, _ := s.group.Do(sessionID, func() (any, error) {
		return s.lockedPass(ctx, sessionID)
	})
	report, _ := v.(Report)
	return report, err
}

func (s *Syncer) lockedPass(ctx context.Context, sessionID string) (Report, error) {
	report := Report{SessionID: sessionID}
	err := s.opts.Locker.WithLock(sessionID, func() error {
		return s.pass(ctx, sessionID, &report)
	})

	result := "ok"
	switch {
	case errors.Is(err, lock.ErrBusy):
		s.logger.Debug("another pass holds the session lock", "session_id", sessionID,
			"holder_pid", s.opts.Locker.HolderPID(sessionID))
		s.opts.Telemetry.LockBusy.Inc()
		report.Skipped = true
		report.SkipReason = SkipLockBusy
		err = nil
		result = "skipped"
	case err != nil:
		result = "error"
	case report.Skipped:
		result = "skipped"
	}
	s.opts.Telemetry.Passes.WithLabelValues(report.Provider, result).Inc()
	return report, err
}

func (s *Syncer) pass(ctx context.Context, sessionID string, report *Report) error {
	sess, err := s.opts.Sessions.Load(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	report.Provider = sess.Provider

	if s.opts.Enabled != nil && !s.opts.Enabled(sess.Provider) {
		report.Skipped, report.SkipReason = true, SkipDisabled
		return nil
	}
	corr := sess.Correlation
	if corr == nil || corr.Status != session.CorrelationMatched || corr.AgentSessionFile == "" {
		report.Skipped, report.SkipReason = true, SkipNotCorrelated
		return nil
	}
	p, ok := s.opts.Providers.Get(sess.Provider)
	if !ok {
		return fmt.Errorf("unknown provider %q", sess.Provider)
	}

	logger := s.logger.With("session_id", sessionID, "provider", p.Name())
	mgr := syncstate.NewManager(s.opts.Sessions, sessionID, logger)
	state, err := mgr.Load()
	if err != nil {
		return err
	}
	if state == nil {
		if state, err = mgr.Initialize(corr.AgentSessionID, sess.StartTime); err != nil {
			return err
		}
	}

	msgs, err := p.ReadMessages(corr.AgentSessionFile)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	if err := s.syncMetrics(ctx, mgr, state, p, msgs, report); err != nil {
		return err
	}
	if err := s.syncConversation(ctx, mgr, state, sessionID, p.Name(), msgs, report); err != nil {
		return err
	}

	logger.Debug("pass complete",
		"deltas", report.Deltas, "deltas_failed", report.DeltasFailed,
		"new_turns", report.NewTurns, "continuations", report.Continuations)
	return nil
}

// syncMetrics writes deltas for new records. On a sink failure the
// watermark stays put so the same records are retried on the next pass.
func (s *Syncer) syncMetrics(ctx context.Context, mgr *syncstate.Manager, state *session.SyncState,
	p provider.Provider, msgs []conversation.Message, report *Report) error {
	collector := metrics.Collector{
		SessionID:      state.SessionID,
		AgentSessionID: state.AgentSessionID,
		Provider:       p.Name(),
		Strategy:       p.WatermarkStrategy(),
	}
	batch := collector.Collect(msgs, state)
	report.LastLine = batch.LastLine

	if n := len(batch.Deltas); n > 0 {
		if err := s.opts.Sink.Write(ctx, state.SessionID, batch.Deltas); err != nil {
			s.logger.Warn("failed to write metric deltas", "session_id", state.SessionID, "count", n, "error", err)
			s.opts.Telemetry.DeltaFailures.WithLabelValues(p.Name()).Add(float64(n))
			report.DeltasFailed = n
			report.LastLine = state.LastProcessedLine
			return mgr.IncrementFailed(n)
		}
		// TotalDeltas counts delivered deltas only
		if err := mgr.IncrementDeltas(n); err != nil {
			return err
		}
		if err := mgr.AddProcessedRecords(batch.RecordIDs); err != nil {
			return err
		}
		if err := mgr.AddAttachedUserPrompts(batch.UserPrompts); err != nil {
			return err
		}
		if err := mgr.MarkSynced(batch.Deltas[n-1].RecordID, n); err != nil {
			return err
		}
		s.opts.Telemetry.Deltas.WithLabelValues(p.Name()).Add(float64(n))
		report.Deltas = n
	}

	if batch.LastLine > state.LastProcessedLine {
		return mgr.UpdateLastProcessed(batch.LastLine, batch.LastTimestamp)
	}
	return nil
}

// syncConversation applies one turn at a time until the watermark stops
// moving
func (s *Syncer) syncConversation(ctx context.Context, mgr *syncstate.Manager, state *session.SyncState,
	sessionID, providerName string, msgs []conversation.Message, report *Report) error {
	wm := conversation.Watermark{MessageUUID: state.LastSyncedMessageUUID, HistoryIndex: state.LastSyncedHistoryIndex}

	for i := 0; i <= len(msgs); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.transformer.Transform(msgs, wm)
		if !res.Advanced(wm) {
			break
		}
		if err := s.opts.Conversations.Apply(sessionID, res); err != nil {
			return err
		}
		if err := mgr.UpdateConversationWatermark(res.LastProcessedMessageUUID, res.HistoryIndex); err != nil {
			return err
		}

		switch res.Kind {
		case conversation.NewTurn:
			report.NewTurns++
		case conversation.Continuation:
			report.Continuations++
		}
		if res.Kind != conversation.NoChange {
			s.opts.Telemetry.Turns.WithLabelValues(providerName, res.Kind.String()).Inc()
		}

		stuck := res.LastProcessedMessageUUID == wm.MessageUUID
		wm = res.Watermark()
		if stuck {
			break
		}
	}
	report.Watermark = wm
	return nil
}
