package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodpt/workflow-engine/internal/store"
)

func TestMapError(t *testing.T) {
	t.Run("nil error maps to nil", func(t *testing.T) {
		assert.NoError(t, MapError(nil, store.ErrNotFound))
	})

	t.Run("no rows maps to the given not found sentinel", func(t *testing.T) {
		err := MapError(sql.ErrNoRows, store.ErrNodeNotFound)
		assert.ErrorIs(t, err, store.ErrNodeNotFound)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unique violation maps to ErrDuplicate", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "chat_messages_idempotency_key_idx"}
		err := MapError(fmt.Errorf("insert failed: %w", pgErr), store.ErrChatMessageNotFound)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("foreign key violation maps to ErrUpdateFailed", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "nodes_project_id_fkey"}
		err := MapError(pgErr, store.ErrNodeNotFound)
		assert.ErrorIs(t, err, store.ErrUpdateFailed)
		assert.Contains(t, err.Error(), "nodes_project_id_fkey")
	})

	t.Run("unrecognized errors pass through", func(t *testing.T) {
		cause := errors.New("connection refused")
		assert.Equal(t, cause, MapError(cause, store.ErrNotFound))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	require.False(t, IsUniqueViolation(errors.New("other")))
}
