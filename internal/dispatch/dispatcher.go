package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/notify"
	"github.com/nodpt/workflow-engine/internal/store"
)

// ErrNoRunner is returned when a job's role has no registered runner.
// This is a configuration error: the role registry is fixed at
// construction, so retrying cannot help.
var ErrNoRunner = errors.New("no runner registered for role")

// Runner executes one job and produces its result. Implementations must
// honor ctx cancellation promptly.
type Runner interface {
	Run(ctx context.Context, job *domain.JobEnvelope) (domain.JobResult, error)
}

// Config sizes the dispatcher's concurrency ceilings. A ceiling of 0
// means unlimited for that slot.
type Config struct {
	MaxGlobal    int
	MaxManager   int
	MaxInspector int
	MaxAgent     int
}

// Dispatcher runs jobs through role-specific runners while enforcing a
// global concurrency ceiling and one ceiling per role. Permits are
// always acquired global first, then role, so ordering is consistent
// across call sites; release happens in the reverse order.
type Dispatcher struct {
	runners map[domain.JobRole]Runner

	// Semaphores are buffered channels; nil means unlimited.
	global chan struct{}
	byRole map[domain.JobRole]chan struct{}

	results  store.JobResultStore
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over a fixed runner registry.
// If logger is nil, the default logger is used.
func NewDispatcher(runners map[domain.JobRole]Runner, cfg Config, results store.JobResultStore, notifier notify.Notifier, logger *slog.Logger) (*Dispatcher, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("runner registry cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		runners: runners,
		global:  semaphore(cfg.MaxGlobal),
		byRole: map[domain.JobRole]chan struct{}{
			domain.RoleManager:   semaphore(cfg.MaxManager),
			domain.RoleInspector: semaphore(cfg.MaxInspector),
			domain.RoleAgent:     semaphore(cfg.MaxAgent),
		},
		results:  results,
		notifier: notifier,
		logger:   logger.With("component", "dispatcher"),
	}, nil
}

// semaphore builds a permit channel; 0 means unlimited (nil channel).
func semaphore(n int) chan struct{} {
	if n <= 0 {
		return nil
	}
	return make(chan struct{}, n)
}

// Dispatch runs the job to completion: acquire permits, execute the
// role's runner, persist the result, notify the requester. A runner
// error is returned to the caller so the listener can decide on
// redelivery; collaborator failures after a successful run are logged
// and swallowed (the job already ran).
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.JobEnvelope) error {
	logger := d.logger.With(
		"job_id", job.JobID,
		"workflow_id", job.WorkflowID,
		"role", job.Role,
	)

	runner, ok := d.runners[job.Role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoRunner, job.Role)
	}

	// Global permit first, then role permit. Capacity waits are not
	// errors: the caller's task simply blocks until a permit frees up.
	if err := acquire(ctx, d.global); err != nil {
		return fmt.Errorf("cancelled waiting for global permit: %w", err)
	}
	defer release(d.global)

	if err := acquire(ctx, d.byRole[job.Role]); err != nil {
		return fmt.Errorf("cancelled waiting for %s permit: %w", job.Role, err)
	}
	defer release(d.byRole[job.Role])

	logger.Info("running job", "task", job.Task)

	result, err := runner.Run(ctx, job)
	if err != nil {
		logger.Error("job execution failed", "error", err)
		return fmt.Errorf("runner failed: %w", err)
	}

	if err := d.results.UpsertJobResult(ctx, job.JobID, result.Status, result.Output); err != nil {
		logger.Error("failed to persist job result", "error", err)
	}

	if job.ConnectionID != "" {
		err := d.notifier.Notify(ctx, job.ConnectionID, "jobCompleted", map[string]string{
			"jobId":  job.JobID,
			"status": string(result.Status),
		})
		if err != nil {
			logger.Error("failed to notify requester", "error", err)
		}
	}

	logger.Info("job completed", "status", result.Status)
	return nil
}

// acquire takes a permit from sem, or returns immediately for the
// unlimited (nil) semaphore.
func acquire(ctx context.Context, sem chan struct{}) error {
	if sem == nil {
		return nil
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(sem chan struct{}) {
	if sem != nil {
		<-sem
	}
}
