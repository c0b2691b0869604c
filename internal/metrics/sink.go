package metrics

import (
	"context"
	"fmt"

	"github.com/codemie-ai/codemie-sync/internal/fsx"
)

// Sink receives delta batches. Write must either accept every delta or
// return an error; the caller then retries the whole batch on a later pass.
type Sink interface {
	Write(ctx context.Context, sessionID string, deltas []Delta) error
}

// OutboxSink appends deltas as JSON lines to a per-session file that an
// exporter drains
type OutboxSink struct {
	path func(sessionID string) string
}

// NewOutboxSink creates a sink. path maps a session id to its outbox file.
func NewOutboxSink(path func(sessionID string) string) *OutboxSink {
	return &OutboxSink{path: path}
}

func (s *OutboxSink) Write(ctx context.Context, sessionID string, deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsx.AppendJSONLines(s.path(sessionID), deltas, 0o600); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}
