package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/store"
)

// PostgresSummaryStore implements the store.SummaryStore interface
// using a PostgreSQL database as the storage backend. One row per node
// holds its current rolling summary; writers are last writer wins.
type PostgresSummaryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSummaryStore creates a new PostgreSQL implementation of
// the SummaryStore interface. If logger is nil, a default logger will
// be used.
func NewPostgresSummaryStore(db store.DBTX, logger *slog.Logger) *PostgresSummaryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSummaryStore{
		db:     db,
		logger: logger.With(slog.String("component", "summary_store")),
	}
}

// Ensure PostgresSummaryStore implements store.SummaryStore interface
var _ store.SummaryStore = (*PostgresSummaryStore)(nil)

// GetSummary implements store.SummaryStore.GetSummary.
func (s *PostgresSummaryStore) GetSummary(ctx context.Context, nodeID uuid.UUID) (string, error) {
	query := `
		SELECT summary
		FROM node_summaries
		WHERE node_id = $1`

	var summary string
	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(&summary)
	if err != nil {
		return "", MapError(err, store.ErrSummaryNotFound)
	}
	return summary, nil
}

// SaveSummary implements store.SummaryStore.SaveSummary.
func (s *PostgresSummaryStore) SaveSummary(ctx context.Context, nodeID uuid.UUID, summary string) error {
	query := `
		INSERT INTO node_summaries (node_id, summary, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (node_id)
		DO UPDATE SET summary = EXCLUDED.summary, updated_at = now()`

	_, err := s.db.ExecContext(ctx, query, nodeID, summary)
	if err != nil {
		return MapError(err, store.ErrSummaryNotFound)
	}
	return nil
}

// DeleteSummary implements store.SummaryStore.DeleteSummary. Deleting a
// summary that does not exist is a no-op.
func (s *PostgresSummaryStore) DeleteSummary(ctx context.Context, nodeID uuid.UUID) error {
	query := `
		DELETE FROM node_summaries
		WHERE node_id = $1`

	_, err := s.db.ExecContext(ctx, query, nodeID)
	if err != nil {
		return MapError(err, store.ErrSummaryNotFound)
	}
	return nil
}
