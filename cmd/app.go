package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/codemie-ai/codemie-sync/internal/config"
	"github.com/codemie-ai/codemie-sync/internal/lock"
	"github.com/codemie-ai/codemie-sync/internal/logging"
	"github.com/codemie-ai/codemie-sync/internal/pipeline"
	"github.com/codemie-ai/codemie-sync/internal/provider"
	"github.com/codemie-ai/codemie-sync/internal/session"
	"github.com/codemie-ai/codemie-sync/internal/telemetry"
)

// app holds the collaborators every command shares
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *slog.Logger
	sessions  *session.Store
	locker    *lock.Locker
	providers *provider.Registry
	telemetry *telemetry.Metrics
	syncer    *pipeline.Syncer
}

// exitError carries the wrapped agent's exit code out of Execute
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("agent exited with code %d", e.code)
}

// ExitCode reports the process exit code for an error returned by Execute
func ExitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}

func newApp(stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	return newAppWithConfig(cfg, stderr), nil
}

func newAppWithConfig(cfg *config.Config, stderr io.Writer) *app {
	log, logErr := logging.New(logging.Options{
		Dir:    cfg.LogsDir(),
		Debug:  cfg.Debug,
		Stderr: stderr,
	})
	if logErr != nil {
		log.Warn("file logging disabled", "error", logErr)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		logger:    log.Logger,
		sessions:  session.NewStore(cfg.SessionsDir()),
		providers: provider.Default(log.Logger),
		telemetry: telemetry.New(),
	}
	a.locker = lock.New(a.sessions.Dir(), cfg.LockStaleAfter)

	a.syncer = pipeline.New(pipeline.Options{
		Sessions:  a.sessions,
		Locker:    a.locker,
		Providers: a.providers,
		Telemetry: a.telemetry,
		Logger:    a.logger,
		Enabled:   cfg.ProviderEnabled,
	})
	return a
}

// close exports counters and closes the log file. Neither failure is
// reported to the caller.
func (a *app) close() {
	if err := a.telemetry.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn("failed to write metrics textfile", "path", a.cfg.MetricsFile, "error", err)
	}
	_ = a.log.Close()
}
