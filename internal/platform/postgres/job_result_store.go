package postgres

import (
	"context"
	"log/slog"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/store"
)

// PostgresJobResultStore implements the store.JobResultStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobResultStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobResultStore creates a new PostgreSQL implementation of
// the JobResultStore interface. If logger is nil, a default logger will
// be used.
func NewPostgresJobResultStore(db store.DBTX, logger *slog.Logger) *PostgresJobResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobResultStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_result_store")),
	}
}

// Ensure PostgresJobResultStore implements store.JobResultStore interface
var _ store.JobResultStore = (*PostgresJobResultStore)(nil)

// UpsertJobResult implements store.JobResultStore.UpsertJobResult.
// Re-running a job replaces its previous result row.
func (s *PostgresJobResultStore) UpsertJobResult(ctx context.Context, jobID string, status domain.JobStatus, output string) error {
	query := `
		INSERT INTO job_results (job_id, status, output, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id)
		DO UPDATE SET status = EXCLUDED.status, output = EXCLUDED.output, updated_at = now()`

	_, err := s.db.ExecContext(ctx, query, jobID, status, output)
	if err != nil {
		return MapError(err, store.ErrNotFound)
	}
	return nil
}
