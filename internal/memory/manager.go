package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
	"github.com/nodpt/workflow-engine/internal/store"
)

// ManagerConfig holds configuration for the memory manager.
type ManagerConfig struct {
	// HistoryLimit caps the per-node recent-message window.
	HistoryLimit int

	// SummaryWorkers is the number of background summarization workers.
	SummaryWorkers int

	// SummaryQueueSize buffers queued summarizations. Enqueues beyond
	// it are dropped with a warning rather than blocking the caller.
	SummaryQueueSize int

	// SummarizeTimeout bounds one background summarization attempt.
	// If zero, defaults to 2 minutes.
	SummarizeTimeout time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HistoryLimit:     20,
		SummaryWorkers:   2,
		SummaryQueueSize: 64,
		SummarizeTimeout: 2 * time.Minute,
	}
}

// summarizeRequest is one unit of work for the background pool.
type summarizeRequest struct {
	nodeID  uuid.UUID
	content string
	role    llm.Role
}

// Manager maintains per-node conversational memory: a bounded recent
// history window kept in process, and a rolling summary cached in
// process and persisted through a SummaryStore. Per-node mutations are
// serialized by an advisory lock; cross-process writers remain last
// writer wins.
type Manager struct {
	summarizer llm.Summarizer
	summaries  store.SummaryStore
	config     ManagerConfig

	mu           sync.RWMutex
	summaryCache map[uuid.UUID]string
	history      map[uuid.UUID][]domain.HistoryMessage
	nodeLocks    *keyedMutex

	queue      chan summarizeRequest
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	logger   *slog.Logger
	failures atomic.Int64
	dropped  atomic.Int64
}

// NewManager creates a memory manager. Start must be called before
// QueueSummarization does any work. If logger is nil, the default
// logger is used.
func NewManager(summarizer llm.Summarizer, summaries store.SummaryStore, config ManagerConfig, logger *slog.Logger) *Manager {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultManagerConfig().HistoryLimit
	}
	if config.SummaryWorkers <= 0 {
		config.SummaryWorkers = 1
	}
	if config.SummaryQueueSize <= 0 {
		config.SummaryQueueSize = 1
	}
	if config.SummarizeTimeout <= 0 {
		config.SummarizeTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		summarizer:   summarizer,
		summaries:    summaries,
		config:       config,
		summaryCache: make(map[uuid.UUID]string),
		history:      make(map[uuid.UUID][]domain.HistoryMessage),
		nodeLocks:    newKeyedMutex(),
		queue:        make(chan summarizeRequest, config.SummaryQueueSize),
		ctx:          ctx,
		cancelFunc:   cancel,
		logger:       logger.With("component", "memory_manager"),
	}
}

// Start launches the background summarization workers.
func (m *Manager) Start() {
	for i := 0; i < m.config.SummaryWorkers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
}

// Stop drains queued summarizations and waits for the workers to exit.
func (m *Manager) Stop() {
	m.cancelFunc()
	m.wg.Wait()
}

// LoadSummary returns the node's rolling summary: cache first, then the
// persistent store. A node with no summary yet returns the empty string
// without materializing anything (first real update writes it).
func (m *Manager) LoadSummary(ctx context.Context, nodeID uuid.UUID) (string, error) {
	m.mu.RLock()
	summary, cached := m.summaryCache[nodeID]
	m.mu.RUnlock()
	if cached {
		return summary, nil
	}

	summary, err := m.summaries.GetSummary(ctx, nodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load summary: %w", err)
	}

	m.mu.Lock()
	m.summaryCache[nodeID] = summary
	m.mu.Unlock()

	return summary, nil
}

// RollingSummarize folds newContent into the node's summary, blocking
// until the summarizer returns. The node's advisory lock is held for the
// whole load-summarize-store cycle so concurrent updates for one node
// are serialized within this process.
func (m *Manager) RollingSummarize(ctx context.Context, nodeID uuid.UUID, newContent string, role llm.Role) (string, error) {
	m.nodeLocks.Lock(nodeID)
	defer m.nodeLocks.Unlock(nodeID)

	oldSummary, err := m.LoadSummary(ctx, nodeID)
	if err != nil {
		return "", err
	}

	summary, err := m.summarizer.Summarize(ctx, oldSummary, newContent, role)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.summaryCache[nodeID] = summary
	m.mu.Unlock()

	if err := m.summaries.SaveSummary(ctx, nodeID, summary); err != nil {
		return "", fmt.Errorf("failed to persist summary: %w", err)
	}

	return summary, nil
}

// QueueSummarization schedules a rolling summary update without
// blocking the caller. When the queue is full the request is dropped
// and counted; the summary simply lags until the next update.
func (m *Manager) QueueSummarization(nodeID uuid.UUID, newContent string, role llm.Role) {
	select {
	case m.queue <- summarizeRequest{nodeID: nodeID, content: newContent, role: role}:
	default:
		m.dropped.Add(1)
		m.logger.Warn("summarization queue full, dropping update",
			"node_id", nodeID,
			"dropped_total", m.dropped.Load())
	}
}

// AddToHistory appends a message to the node's window, evicting the
// oldest entries beyond the history limit.
func (m *Manager) AddToHistory(nodeID uuid.UUID, msg domain.HistoryMessage) {
	m.nodeLocks.Lock(nodeID)
	defer m.nodeLocks.Unlock(nodeID)

	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.history[nodeID], msg)
	if excess := len(history) - m.config.HistoryLimit; excess > 0 {
		history = append([]domain.HistoryMessage(nil), history[excess:]...)
	}
	m.history[nodeID] = history
}

// GetHistory returns a copy of the node's recent-message window, oldest
// first.
func (m *Manager) GetHistory(nodeID uuid.UUID) []domain.HistoryMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.history[nodeID]
	out := make([]domain.HistoryMessage, len(history))
	copy(out, history)
	return out
}

// ClearMemory removes the node's cached summary and history and deletes
// the persisted summary.
func (m *Manager) ClearMemory(ctx context.Context, nodeID uuid.UUID) error {
	m.nodeLocks.Lock(nodeID)
	defer m.nodeLocks.Unlock(nodeID)

	m.mu.Lock()
	delete(m.summaryCache, nodeID)
	delete(m.history, nodeID)
	m.mu.Unlock()

	if err := m.summaries.DeleteSummary(ctx, nodeID); err != nil {
		return fmt.Errorf("failed to delete persisted summary: %w", err)
	}
	return nil
}

// FailureCount reports how many background summarizations have failed
// after retry. Exposed for operational visibility.
func (m *Manager) FailureCount() int64 {
	return m.failures.Load()
}

// worker drains the summarization queue. Each request gets one retry;
// a request failing twice is dropped and counted.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logger := m.logger.With("summary_worker", id)

	for {
		select {
		case <-m.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case req := <-m.queue:
					m.process(req, logger)
				default:
					return
				}
			}
		case req := <-m.queue:
			m.process(req, logger)
		}
	}
}

func (m *Manager) process(req summarizeRequest, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.SummarizeTimeout)
	defer cancel()

	_, err := m.RollingSummarize(ctx, req.nodeID, req.content, req.role)
	if err == nil {
		return
	}

	logger.Warn("background summarization failed, retrying once",
		"node_id", req.nodeID,
		"error", err)

	_, err = m.RollingSummarize(ctx, req.nodeID, req.content, req.role)
	if err != nil {
		m.failures.Add(1)
		logger.Error("background summarization failed",
			"node_id", req.nodeID,
			"failures_total", m.failures.Load(),
			"error", err)
	}
}
