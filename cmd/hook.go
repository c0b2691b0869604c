package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/config"
	"github.com/codemie-ai/codemie-sync/internal/lock"
	"github.com/codemie-ai/codemie-sync/internal/pipeline"
	"github.com/codemie-ai/codemie-sync/internal/session"
	"github.com/codemie-ai/codemie-sync/internal/syncstate"
)

const hookTimeout = 20 * time.Second

var hookProvider string

var errNoHookSession = errors.New("no tracked session for hook event")

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Process hook events from AI agents",
	Long:   `Internal command called by agent hooks. Reads the hook event from stdin and runs a sync pass for the tracked session.`,
	Hidden: true,
	RunE:   runHook,
}

func init() {
	hookCmd.Flags().StringVar(&hookProvider, "provider", "", "Provider that fired the hook")
}

// hookInput is the part of the agents' hook payload used to find the session
type hookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
	Cwd            string `json:"cwd"`
}

// runHook never fails: the agent must not be disturbed by tracking
func runHook(cmd *cobra.Command, args []string) error {
	defer outputContinueResponse(cmd.OutOrStdout())

	a, err := newApp(cmd.ErrOrStderr())
	if err != nil {
		return nil
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	report, err := a.handleHook(ctx, cmd.InOrStdin(), os.Getenv(config.EnvSessionID), hookProvider)
	switch {
	case errors.Is(err, errNoHookSession):
		a.logger.Debug("hook ignored", "reason", err)
	case err != nil:
		a.logger.Warn("hook sync failed", "error", err)
	default:
		a.logger.Debug("hook sync done", "session_id", report.SessionID, "deltas", report.Deltas,
			"skipped", report.Skipped, "skip_reason", report.SkipReason)
	}
	return nil
}

// outputContinueResponse tells the agent to carry on
func outputContinueResponse(w io.Writer) {
	fmt.Fprintln(w, `{"continue":true}`)
}

func (a *app) handleHook(ctx context.Context, in io.Reader, envSessionID, providerName string) (pipeline.Report, error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("failed to read stdin: %w", err)
	}
	var input hookInput
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return pipeline.Report{}, fmt.Errorf("failed to parse hook event: %w", err)
		}
	}
	a.logger.Debug("hook received", "event", input.HookEventName, "agent_session_id", input.SessionID,
		"transcript", input.TranscriptPath)

	sessionID, err := a.resolveHookSession(envSessionID, input, a.providers.Normalize(providerName))
	if err != nil {
		return pipeline.Report{}, err
	}
	if err := a.adoptTranscript(sessionID, input.TranscriptPath); err != nil {
		a.logger.Warn("failed to adopt hook transcript", "session_id", sessionID, "error", err)
	}
	return a.syncer.Sync(ctx, sessionID)
}

// resolveHookSession prefers the id the wrapper exported to the agent and
// falls back to the session whose correlated transcript fired the hook
func (a *app) resolveHookSession(envSessionID string, input hookInput, providerName string) (string, error) {
	if envSessionID != "" {
		return envSessionID, nil
	}
	if input.SessionID == "" && input.TranscriptPath == "" {
		return "", errNoHookSession
	}
	sessions, err := a.sessions.List()
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if providerName != "" && s.Provider != providerName {
			continue
		}
		c := s.Correlation
		if c == nil || c.Status != session.CorrelationMatched {
			continue
		}
		if (input.TranscriptPath != "" && c.AgentSessionFile == input.TranscriptPath) ||
			(input.SessionID != "" && c.AgentSessionID == input.SessionID) {
			return s.SessionID, nil
		}
	}
	return "", errNoHookSession
}

// adoptTranscript correlates a session the wrapper has not matched yet with
// the transcript reported by the hook
func (a *app) adoptTranscript(sessionID, transcriptPath string) error {
	if transcriptPath == "" {
		return nil
	}
	sess, err := a.sessions.Load(sessionID)
	if err != nil || sess == nil {
		return err
	}
	if sess.Correlation != nil && sess.Correlation.Status == session.CorrelationMatched {
		return nil
	}
	if !a.cfg.ProviderEnabled(sess.Provider) {
		return nil
	}
	p, ok := a.providers.Get(sess.Provider)
	if !ok || !p.MatchesSessionPattern(transcriptPath) {
		return nil
	}

	detected := time.Now()
	result := session.Correlation{
		Status:           session.CorrelationMatched,
		AgentSessionFile: transcriptPath,
		AgentSessionID:   p.ExtractSessionID(transcriptPath),
		DetectedAt:       &detected,
	}
	if sess.Correlation != nil {
		result.RetryCount = sess.Correlation.RetryCount
	}

	err = a.locker.WithLock(sessionID, func() error {
		if _, err := a.sessions.Update(sessionID, func(s *session.Session) { s.Correlation = &result }); err != nil {
			return err
		}
		_, err := syncstate.NewManager(a.sessions, sessionID, a.logger).Initialize(result.AgentSessionID, sess.StartTime)
		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		return nil
	}
	if err != nil {
		return err
	}
	a.telemetry.Correlations.WithLabelValues(p.Name(), string(result.Status)).Inc()
	a.logger.Info("transcript adopted from hook", "session_id", sessionID, "path", transcriptPath)
	return nil
}
