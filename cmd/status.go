package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/hooks"
	"github.com/codemie-ai/codemie-sync/internal/session"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, hooks and recent sessions",
	Long:  `Display the current configuration, agent hook installation status and the most recent tracked sessions.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of sessions to show (0 = all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	userHome, _ := os.UserHomeDir()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "codemie-sync %s\n\n", Version)
	fmt.Fprintf(out, "Home:    %s\n", a.cfg.Home)
	fmt.Fprintf(out, "Config:  %s\n", a.cfg.Path())
	fmt.Fprintf(out, "Debug:   %v\n", a.cfg.Debug)
	if a.cfg.DisableMetrics {
		fmt.Fprintln(out, "Metrics: disabled")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Providers:")
	for _, name := range a.providers.Names() {
		fmt.Fprintf(out, "  %s: %s\n", name, a.providerStatus(name, userHome))
	}
	fmt.Fprintln(out)

	sessions, err := a.sessions.List()
	if err != nil {
		return err
	}
	return printSessions(out, sessions, statusLimit)
}

func (a *app) providerStatus(name, userHome string) string {
	enabled := "enabled"
	if !a.cfg.ProviderEnabled(name) {
		enabled = "disabled"
	}
	target, err := hooks.TargetFor(name, userHome)
	if err != nil {
		return enabled
	}
	count, err := hooks.Installed(target)
	switch {
	case err != nil:
		return enabled + ", error reading " + target.SettingsPath
	case count > 0:
		return fmt.Sprintf("%s, hooks installed (%d)", enabled, count)
	default:
		return enabled + ", hooks not installed"
	}
}

func printSessions(out io.Writer, sessions []*session.Session, limit int) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "Sessions: none")
		return nil
	}
	fmt.Fprintf(out, "Sessions (%d):\n", len(sessions))
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	for _, s := range sessions {
		correlation := session.CorrelationPending
		if s.Correlation != nil {
			correlation = s.Correlation.Status
		}
		fmt.Fprintf(out, "  %s  %-7s %-9s %-8s %s", s.SessionID, s.Provider, s.Status, correlation,
			s.StartTime.Local().Format("2006-01-02 15:04"))
		if s.Sync != nil && s.Sync.Metrics != nil {
			m := s.Sync.Metrics
			fmt.Fprintf(out, "  deltas=%d line=%d turns=%d", m.TotalSynced, m.LastProcessedLine, m.LastSyncedHistoryIndex+1)
		}
		if s.RepoName != "" {
			fmt.Fprintf(out, "  %s@%s", s.RepoName, s.GitBranch)
		}
		fmt.Fprintln(out)
	}
	return nil
}
