package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/session"
)

var (
	syncAll  bool
	syncJSON bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [session-id]",
	Short: "Run an extraction pass for tracked sessions",
	Long: `Read the correlated transcript of a tracked session and bring its metrics
outbox and conversation history up to date. Passes are incremental: records
already processed are never emitted again.

Examples:
  codemie-sync sync 3f0c...   # Sync one session
  codemie-sync sync --all     # Sync every correlated session
  codemie-sync sync --all --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every correlated session")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print pass reports as JSON lines")
}

func runSync(cmd *cobra.Command, args []string) error {
	if !syncAll && len(args) == 0 {
		return errors.New("specify a session id or --all")
	}

	a, err := newApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ids := args
	if syncAll {
		if ids, err = a.correlatedSessions(); err != nil {
			return err
		}
	}
	return a.syncSessions(cmd.Context(), cmd.OutOrStdout(), ids, syncJSON)
}

// correlatedSessions lists sessions with a matched transcript
func (a *app) correlatedSessions() ([]string, error) {
	sessions, err := a.sessions.List()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range sessions {
		if s.Correlation != nil && s.Correlation.Status == session.CorrelationMatched {
			ids = append(ids, s.SessionID)
		}
	}
	return ids, nil
}

func (a *app) syncSessions(ctx context.Context, out io.Writer, ids []string, asJSON bool) error {
	if len(ids) == 0 {
		fmt.Fprintln(out, "📁 No correlated sessions to sync")
		return nil
	}

	var synced, skipped, failed int
	for _, id := range ids {
		report, err := a.syncer.Sync(ctx, id)
		switch {
		case err != nil:
			failed++
			a.logger.Warn("sync pass failed", "session_id", id, "error", err)
			if !asJSON {
				fmt.Fprintf(out, "  ❌ %s: %v\n", id, err)
			}
			continue
		case report.Skipped:
			skipped++
		default:
			synced++
		}

		if asJSON {
			line, _ := json.Marshal(report)
			fmt.Fprintln(out, string(line))
			continue
		}
		if report.Skipped {
			fmt.Fprintf(out, "  ⚠️  %s: skipped (%s)\n", id, report.SkipReason)
			continue
		}
		fmt.Fprintf(out, "  ✓ %s: %d deltas, %d new turns, %d continuations (line %d)\n",
			id, report.Deltas, report.NewTurns, report.Continuations, report.LastLine)
	}

	if !asJSON {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Sync complete: %d synced, %d skipped, %d errors\n", synced, skipped, failed)
	}
	if failed > 0 {
		return fmt.Errorf("%d session(s) failed to sync", failed)
	}
	return nil
}

