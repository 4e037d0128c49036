package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
	"github.com/nodpt/workflow-engine/internal/store"
)

// fakeSummarizer folds messages by concatenation so tests can assert on
// the exact rolling result.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, oldSummary, newContent string, role llm.Role) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if oldSummary == "" {
		return fmt.Sprintf("%s: %s", role, newContent), nil
	}
	return fmt.Sprintf("%s | %s: %s", oldSummary, role, newContent), nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSummaryStore is an in-memory store.SummaryStore.
type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries map[uuid.UUID]string
	getErr    error
}

func newFakeSummaryStore() *fakeSummaryStore {
	return &fakeSummaryStore{summaries: make(map[uuid.UUID]string)}
}

func (f *fakeSummaryStore) GetSummary(ctx context.Context, nodeID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	summary, exists := f.summaries[nodeID]
	if !exists {
		return "", store.ErrSummaryNotFound
	}
	return summary, nil
}

func (f *fakeSummaryStore) SaveSummary(ctx context.Context, nodeID uuid.UUID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[nodeID] = summary
	return nil
}

func (f *fakeSummaryStore) DeleteSummary(ctx context.Context, nodeID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.summaries, nodeID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, limit int) (*Manager, *fakeSummarizer, *fakeSummaryStore) {
	t.Helper()
	summarizer := &fakeSummarizer{}
	summaries := newFakeSummaryStore()
	cfg := DefaultManagerConfig()
	cfg.HistoryLimit = limit
	cfg.SummarizeTimeout = time.Second
	mgr := NewManager(summarizer, summaries, cfg, testLogger())
	return mgr, summarizer, summaries
}

func TestManager_HistoryIsBoundedFIFO(t *testing.T) {
	mgr, _, _ := newTestManager(t, 3)
	nodeID := uuid.New()

	for i := 1; i <= 5; i++ {
		mgr.AddToHistory(nodeID, domain.HistoryMessage{
			Role:      domain.HistoryRoleUser,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: time.Now(),
		})
	}

	history := mgr.GetHistory(nodeID)
	require.Len(t, history, 3)
	assert.Equal(t, "m3", history[0].Content)
	assert.Equal(t, "m4", history[1].Content)
	assert.Equal(t, "m5", history[2].Content)
}

func TestManager_GetHistoryReturnsCopy(t *testing.T) {
	mgr, _, _ := newTestManager(t, 5)
	nodeID := uuid.New()

	mgr.AddToHistory(nodeID, domain.HistoryMessage{Role: domain.HistoryRoleUser, Content: "original"})

	history := mgr.GetHistory(nodeID)
	history[0].Content = "mutated"

	assert.Equal(t, "original", mgr.GetHistory(nodeID)[0].Content)
}

func TestManager_LoadSummary_LazyMaterialization(t *testing.T) {
	mgr, _, summaries := newTestManager(t, 5)
	nodeID := uuid.New()

	// Nothing cached, nothing persisted: empty string, no write-back.
	summary, err := mgr.LoadSummary(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Empty(t, summary)

	summaries.mu.Lock()
	_, persisted := summaries.summaries[nodeID]
	summaries.mu.Unlock()
	assert.False(t, persisted, "a miss must not materialize a summary")
}

func TestManager_LoadSummary_FallsBackToStore(t *testing.T) {
	mgr, _, summaries := newTestManager(t, 5)
	nodeID := uuid.New()

	require.NoError(t, summaries.SaveSummary(context.Background(), nodeID, "persisted summary"))

	summary, err := mgr.LoadSummary(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Equal(t, "persisted summary", summary)

	// A second load hits the cache even if the store starts failing.
	summaries.mu.Lock()
	summaries.getErr = errors.New("db down")
	summaries.mu.Unlock()

	summary, err = mgr.LoadSummary(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Equal(t, "persisted summary", summary)
}

func TestManager_RollingSummarize(t *testing.T) {
	mgr, _, summaries := newTestManager(t, 5)
	nodeID := uuid.New()
	ctx := context.Background()

	summary, err := mgr.RollingSummarize(ctx, nodeID, "hello", llm.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "user: hello", summary)

	summary, err = mgr.RollingSummarize(ctx, nodeID, "hi there", llm.RoleAssistant)
	require.NoError(t, err)
	assert.Equal(t, "user: hello | assistant: hi there", summary)

	persisted, err := summaries.GetSummary(ctx, nodeID)
	require.NoError(t, err)
	assert.Equal(t, summary, persisted)
}

func TestManager_QueueSummarization_ProcessedInBackground(t *testing.T) {
	mgr, summarizer, summaries := newTestManager(t, 5)
	nodeID := uuid.New()

	mgr.Start()
	defer mgr.Stop()

	mgr.QueueSummarization(nodeID, "hello", llm.RoleUser)

	assert.Eventually(t, func() bool {
		summary, err := summaries.GetSummary(context.Background(), nodeID)
		return err == nil && summary == "user: hello"
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, summarizer.callCount(), 1)
}

func TestManager_QueueSummarization_FailureIsCounted(t *testing.T) {
	mgr, summarizer, _ := newTestManager(t, 5)
	summarizer.err = errors.New("model unavailable")

	mgr.Start()
	defer mgr.Stop()

	mgr.QueueSummarization(uuid.New(), "hello", llm.RoleUser)

	assert.Eventually(t, func() bool {
		return mgr.FailureCount() == 1
	}, time.Second, 5*time.Millisecond)
	// One retry: two summarizer calls for the single failed request.
	assert.Equal(t, 2, summarizer.callCount())
}

func TestManager_ClearMemory(t *testing.T) {
	mgr, _, _ := newTestManager(t, 5)
	nodeID := uuid.New()
	ctx := context.Background()

	mgr.AddToHistory(nodeID, domain.HistoryMessage{Role: domain.HistoryRoleUser, Content: "hello"})
	_, err := mgr.RollingSummarize(ctx, nodeID, "hello", llm.RoleUser)
	require.NoError(t, err)

	require.NoError(t, mgr.ClearMemory(ctx, nodeID))

	assert.Empty(t, mgr.GetHistory(nodeID))
	summary, err := mgr.LoadSummary(ctx, nodeID)
	require.NoError(t, err)
	assert.Empty(t, summary)
}
