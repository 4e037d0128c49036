package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/platform/logger"
	"github.com/nodpt/workflow-engine/internal/stream"
)

// NewJobHandler adapts the dispatcher to a stream handler for one
// jobs:<role> stream. Malformed envelopes and unknown roles are dropped
// (acknowledged) since redelivery cannot fix them; runner failures are
// reported as handler failure so the listener's retry accounting
// applies.
func NewJobHandler(d *Dispatcher, role domain.JobRole, log *slog.Logger) stream.Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "job_handler", "role", role)

	return func(ctx context.Context, env stream.Envelope) bool {
		entryLog := log.With("entry_id", env.EntryID)
		ctx = logger.WithLogger(ctx, entryLog)

		job, err := domain.ParseJobEnvelope(role, env.Fields)
		if err != nil {
			entryLog.Error("dropping malformed job entry", "error", err)
			return true
		}

		if err := d.Dispatch(ctx, job); err != nil {
			if errors.Is(err, ErrNoRunner) {
				entryLog.Error("dropping job with unroutable role", "error", err)
				return true
			}
			entryLog.Warn("job dispatch failed", "job_id", job.JobID, "error", err)
			return false
		}

		return true
	}
}
