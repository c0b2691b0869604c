package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/codemie-ai/codemie-sync/internal/config"
	"github.com/codemie-ai/codemie-sync/internal/git"
	"github.com/codemie-ai/codemie-sync/internal/provider"
	"github.com/codemie-ai/codemie-sync/internal/session"
)

const finalSyncTimeout = 30 * time.Second

var runBin string

// defaultBinaries are the agent executables launched when --bin is not set
var defaultBinaries = map[string]string{
	provider.ClaudeName: "claude",
	provider.GeminiName: "gemini",
}

var runCmd = &cobra.Command{
	Use:   "run <provider> [agent args...]",
	Short: "Launch an agent and track its session",
	Long: `Launch an AI coding agent with inherited stdio and track the session.

The agent's transcript is located once it appears, then metrics and the
conversation are synced whenever the transcript changes and once more when
the agent exits. Tracking failures never affect the agent; the wrapper exits
with the agent's exit code.

Example:
  codemie-sync run claude -- --model opus`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&runBin, "bin", "", "Agent executable (defaults to the provider's CLI)")
	runCmd.Flags().SetInterspersed(false)
}

func runAgent(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	p, ok := a.providers.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown provider %q (supported: %s)", args[0], strings.Join(a.providers.Names(), ", "))
	}
	bin := runBin
	if bin == "" {
		bin = defaultBinaries[p.Name()]
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	t := a.startTracking(cmd.Context(), p, workingDir, userHome)

	agent := exec.Command(bin, args[1:]...)
	agent.Stdin = os.Stdin
	agent.Stdout = os.Stdout
	agent.Stderr = os.Stderr
	agent.Env = os.Environ()
	if t != nil {
		agent.Env = append(agent.Env, config.EnvSessionID+"="+t.sess.SessionID)
	}
	if err := agent.Start(); err != nil {
		if t != nil {
			t.complete(context.Background(), 1)
		}
		return fmt.Errorf("failed to start %s: %w", bin, err)
	}
	a.logger.Info("agent started", "provider", p.Name(), "pid", agent.Process.Pid, "tracked", t != nil)

	stopSignals := forwardSignals(agent.Process)
	defer stopSignals()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if t != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.track(ctx)
		}()
	}

	code := exitCodeOf(agent.Wait())
	cancel()
	wg.Wait()
	a.logger.Info("agent exited", "provider", p.Name(), "exit_code", code)

	if t != nil {
		finalCtx, finalCancel := context.WithTimeout(context.Background(), finalSyncTimeout)
		defer finalCancel()
		t.finish(finalCtx, code)
	}

	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// startTracking records a new session and snapshots the provider's
// sessions directory. It returns nil when sync is switched off for the
// provider, in which case the agent runs untracked.
func (a *app) startTracking(ctx context.Context, p provider.Provider, workingDir, userHome string) *tracker {
	if !a.cfg.ProviderEnabled(p.Name()) {
		a.logger.Info("sync disabled, agent runs untracked", "provider", p.Name())
		return nil
	}
	sess := newSession(ctx, p.Name(), workingDir)
	if err := a.sessions.Save(sess); err != nil {
		a.logger.Warn("failed to save session, tracking disabled", "session_id", sess.SessionID, "error", err)
	}
	t := newTracker(a, p, sess, p.SessionsDir(userHome))
	t.takeBefore()
	return t
}

func newSession(ctx context.Context, providerName, workingDir string) *session.Session {
	sess := &session.Session{
		SessionID:        uuid.NewString(),
		Provider:         providerName,
		WorkingDirectory: workingDir,
		StartTime:        time.Now(),
		Status:           session.StatusActive,
		Correlation:      &session.Correlation{Status: session.CorrelationPending},
	}
	if gitCtx := git.Detect(ctx, workingDir); gitCtx != nil {
		sess.RepoName = gitCtx.RepoName
		sess.GitBranch = gitCtx.Branch
	}
	return sess
}

// forwardSignals keeps the wrapper alive on Ctrl-C, which the terminal
// already delivers to the agent, and relays SIGTERM to it
func forwardSignals(proc *os.Process) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					_ = proc.Signal(sig)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 1
}
