package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodpt/workflow-engine/internal/platform/postgres"
	"github.com/nodpt/workflow-engine/internal/stream"
	"github.com/nodpt/workflow-engine/migrations"
)

// openTestDB connects to the integration test database and applies the
// migrations. Tests calling it are skipped when NODPT_TEST_DATABASE_URL
// is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("NODPT_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("NODPT_TEST_DATABASE_URL not set; skipping database integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))

	return db
}

// testStreamKey returns a stream key no other test run has written to.
func testStreamKey() string {
	return fmt.Sprintf("jobs:test:%s", uuid.NewString())
}

func TestStreamLog_InfoUnknownStream(t *testing.T) {
	db := openTestDB(t)
	log := postgres.NewStreamLog(db, nil)

	_, err := log.Info(context.Background(), testStreamKey(), "")
	assert.ErrorIs(t, err, stream.ErrStreamNotFound)
}

func TestStreamLog_InfoKnowsStreamByGroupAlone(t *testing.T) {
	db := openTestDB(t)
	log := postgres.NewStreamLog(db, nil)
	ctx := context.Background()
	key := testStreamKey()

	// A consumer group makes the stream known before any entry exists.
	require.NoError(t, log.CreateGroup(ctx, key, "workers"))

	info, err := log.Info(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Length)

	_, err = log.Info(ctx, key, "nobody")
	assert.ErrorIs(t, err, stream.ErrGroupNotFound)
}

func TestStreamLog_InfoCountsEntriesAndPending(t *testing.T) {
	db := openTestDB(t)
	log := postgres.NewStreamLog(db, nil)
	ctx := context.Background()
	key := testStreamKey()

	require.NoError(t, log.CreateGroup(ctx, key, "workers"))
	for i := 0; i < 3; i++ {
		_, err := log.Add(ctx, key, map[string]string{"jobId": fmt.Sprint(i)})
		require.NoError(t, err)
	}

	envs, err := log.ReadGroup(ctx, key, "workers", "w1", 2)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	info, err := log.Info(ctx, key, "workers")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Length)
	assert.Equal(t, map[string]int{"w1": 2}, info.PendingByConsumer)
}
