package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
	"github.com/nodpt/workflow-engine/internal/memory"
	"github.com/nodpt/workflow-engine/internal/store"
	"github.com/nodpt/workflow-engine/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWorkflowStore serves the chained lookups from in-memory maps.
type fakeWorkflowStore struct {
	mu          sync.Mutex
	messages    map[uuid.UUID]*domain.ChatMessage
	nodes       map[uuid.UUID]*domain.Node
	projects    map[uuid.UUID]*domain.Project
	templates   map[uuid.UUID]*domain.Template
	prompts     map[uuid.UUID][]domain.Prompt
	assignments map[uuid.UUID]*domain.ModelAssignment

	saved   []*domain.ChatMessage
	saveErr error
	getErr  error
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		messages:    make(map[uuid.UUID]*domain.ChatMessage),
		nodes:       make(map[uuid.UUID]*domain.Node),
		projects:    make(map[uuid.UUID]*domain.Project),
		templates:   make(map[uuid.UUID]*domain.Template),
		prompts:     make(map[uuid.UUID][]domain.Prompt),
		assignments: make(map[uuid.UUID]*domain.ModelAssignment),
	}
}

func (f *fakeWorkflowStore) GetChatMessage(ctx context.Context, id uuid.UUID) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, store.ErrChatMessageNotFound
	}
	return msg, nil
}

func (f *fakeWorkflowStore) SaveChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, msg)
	f.messages[msg.ID] = msg
	return nil
}

func (f *fakeWorkflowStore) GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	return n, nil
}

func (f *fakeWorkflowStore) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, store.ErrProjectNotFound
	}
	return p, nil
}

func (f *fakeWorkflowStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return t, nil
}

func (f *fakeWorkflowStore) GetPrompts(ctx context.Context, templateID uuid.UUID) ([]domain.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[templateID], nil
}

func (f *fakeWorkflowStore) GetModelAssignment(ctx context.Context, projectID uuid.UUID) (*domain.ModelAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[projectID]
	if !ok {
		return nil, store.ErrModelAssignmentNotFound
	}
	return a, nil
}

// fakeSummaryStore backs the memory manager in tests.
type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries map[uuid.UUID]string
}

func newFakeSummaryStore() *fakeSummaryStore {
	return &fakeSummaryStore{summaries: make(map[uuid.UUID]string)}
}

func (f *fakeSummaryStore) GetSummary(ctx context.Context, nodeID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[nodeID]
	if !ok {
		return "", store.ErrSummaryNotFound
	}
	return s, nil
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

// fakeSummarizer folds content by concatenation.
type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, oldSummary, newContent string, role llm.Role) (string, error) {
	if oldSummary == "" {
		return fmt.Sprintf("%s: %s", role, newContent), nil
	}
	return fmt.Sprintf("%s | %s: %s", oldSummary, role, newContent), nil
}

// fakeChatLLM records the last request.
type fakeChatLLM struct {
	mu      sync.Mutex
	lastReq llm.Request
	reply   string
	err     error
}

func (f *fakeChatLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// fakePublisher records published results.
type fakePublisher struct {
	mu      sync.Mutex
	chatIDs []uuid.UUID
	events  []domain.ResultEvent
}

func (f *fakePublisher) PublishChatResult(ctx context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatIDs = append(f.chatIDs, chatID)
	return nil
}

func (f *fakePublisher) PublishResultEvent(ctx context.Context, event domain.ResultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(ctx context.Context, connectionID, eventName string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connectionID)
	return nil
}

// fixture wires a handler with one fully linked chat turn.
type fixture struct {
	handler   *Handler
	store     *fakeWorkflowStore
	memory    *memory.Manager
	client    *fakeChatLLM
	publisher *fakePublisher
	notifier  *fakeNotifier

	chatID uuid.UUID
	nodeID uuid.UUID
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := newFakeWorkflowStore()
	nodeID := uuid.New()
	projectID := uuid.New()
	templateID := uuid.New()
	userID := uuid.New()

	userMsg, err := domain.NewChatMessage(nodeID, userID, domain.SenderUser, "hello")
	require.NoError(t, err)

	st.messages[userMsg.ID] = userMsg
	st.nodes[nodeID] = &domain.Node{ID: nodeID, ProjectID: projectID, TemplateID: templateID, Name: "assistant-node"}
	st.projects[projectID] = &domain.Project{ID: projectID, OwnerID: userID, Name: "demo"}
	st.templates[templateID] = &domain.Template{ID: templateID, Name: "assistant"}
	st.prompts[templateID] = []domain.Prompt{
		{ID: uuid.New(), TemplateID: templateID, Content: "You are helpful.", Position: 1},
		{ID: uuid.New(), TemplateID: templateID, Content: "Be concise.", Position: 2},
	}
	st.assignments[projectID] = &domain.ModelAssignment{
		ID:          uuid.New(),
		ProjectID:   projectID,
		ModelName:   "llama3.2:3b",
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   256,
	}

	mem := memory.NewManager(fakeSummarizer{}, newFakeSummaryStore(),
		memory.ManagerConfig{HistoryLimit: 10, SummaryWorkers: 1, SummaryQueueSize: 8}, testLogger())
	mem.Start()
	t.Cleanup(mem.Stop)

	client := &fakeChatLLM{reply: "hi there"}
	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}

	h := NewHandler(st, mem, client, publisher, notifier, Config{}, testLogger())

	return &fixture{
		handler:   h,
		store:     st,
		memory:    mem,
		client:    client,
		publisher: publisher,
		notifier:  notifier,
		chatID:    userMsg.ID,
		nodeID:    nodeID,
		userID:    userID,
	}
}

func (f *fixture) envelope() stream.Envelope {
	return stream.Envelope{
		EntryID:   "1755000000000-0",
		StreamKey: "jobs:chat",
		Fields: map[string]string{
			"chatId":       f.chatID.String(),
			"connectionId": "conn-9",
		},
	}
}

func TestHandler_CompletesTurn(t *testing.T) {
	f := newFixture(t)

	ok := f.handler.Handle(context.Background(), f.envelope())
	require.True(t, ok)

	// Prompt: both configured system prompts, then the user message.
	// No summary or history exists yet, so nothing sits between them.
	req := f.client.lastReq
	assert.Equal(t, "llama3.2:3b", req.Model)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, 0.95, req.TopP)
	assert.Equal(t, 256, req.MaxTokens)
	require.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are helpful."},
		{Role: llm.RoleSystem, Content: "Be concise."},
		{Role: llm.RoleUser, Content: "hello"},
	}, req.Messages)

	// The assistant reply is persisted with the resolved model and an
	// idempotency key tied to this delivery.
	require.Len(t, f.store.saved, 1)
	reply := f.store.saved[0]
	assert.Equal(t, domain.SenderAssistant, reply.Sender)
	assert.Equal(t, "hi there", reply.Text)
	assert.Equal(t, f.nodeID, reply.NodeID)
	assert.Equal(t, f.userID, reply.UserID)
	assert.Equal(t, "llama3.2:3b", reply.ModelName)
	assert.Equal(t, f.chatID.String()+":1755000000000-0", reply.IdempotencyKey)

	// Both sides of the turn are in the node's history window.
	history := f.memory.GetHistory(f.nodeID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.HistoryRoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, domain.HistoryRoleAssistant, history[1].Role)
	assert.Equal(t, "hi there", history[1].Content)

	// Result publications reference the new assistant record.
	require.Len(t, f.publisher.chatIDs, 1)
	assert.Equal(t, reply.ID, f.publisher.chatIDs[0])
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, reply.ID, f.publisher.events[0].MessageID)
	assert.Equal(t, domain.ResultEventChatReply, f.publisher.events[0].Type)
	assert.Equal(t, "conn-9", f.publisher.events[0].ClientConnectionID)
	assert.Equal(t, []string{"conn-9"}, f.notifier.calls)
}

func TestHandler_SummaryFramedBetweenPromptsAndHistory(t *testing.T) {
	f := newFixture(t)

	// Seed a prior exchange so both summary and history exist.
	_, err := f.memory.RollingSummarize(context.Background(), f.nodeID, "earlier question", llm.RoleUser)
	require.NoError(t, err)
	f.memory.AddToHistory(f.nodeID, domain.HistoryMessage{Role: domain.HistoryRoleUser, Content: "earlier question"})
	f.memory.AddToHistory(f.nodeID, domain.HistoryMessage{Role: domain.HistoryRoleAssistant, Content: "earlier answer"})

	ok := f.handler.Handle(context.Background(), f.envelope())
	require.True(t, ok)

	msgs := f.client.lastReq.Messages
	require.Len(t, msgs, 6)
	assert.Equal(t, llm.RoleSystem, msgs[2].Role)
	assert.Equal(t, summaryFrame+"user: earlier question", msgs[2].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "earlier question"}, msgs[3])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "earlier answer"}, msgs[4])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello"}, msgs[5])
}

func TestHandler_QueuesSummarizationForBothSides(t *testing.T) {
	f := newFixture(t)

	ok := f.handler.Handle(context.Background(), f.envelope())
	require.True(t, ok)

	// Two updates are queued; once the workers fold both in, the
	// summary contains each side of the turn.
	require.Eventually(t, func() bool {
		summary, err := f.memory.LoadSummary(context.Background(), f.nodeID)
		return err == nil &&
			strings.Contains(summary, "user: hello") &&
			strings.Contains(summary, "assistant: hi there")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_DropsInvalidChatID(t *testing.T) {
	f := newFixture(t)

	env := f.envelope()
	env.Fields["chatId"] = "42"

	assert.True(t, f.handler.Handle(context.Background(), env), "unparseable chatId is dropped")
	assert.Empty(t, f.store.saved)
}

func TestHandler_DropsMissingChatMessage(t *testing.T) {
	f := newFixture(t)

	env := f.envelope()
	env.Fields["chatId"] = uuid.NewString()

	assert.True(t, f.handler.Handle(context.Background(), env), "missing chat record is dropped")
	assert.Empty(t, f.store.saved)
}

func TestHandler_DropsMissingNode(t *testing.T) {
	f := newFixture(t)
	delete(f.store.nodes, f.nodeID)

	assert.True(t, f.handler.Handle(context.Background(), f.envelope()))
	assert.Empty(t, f.store.saved)
}

func TestHandler_DropsMissingModelAssignment(t *testing.T) {
	f := newFixture(t)
	f.store.assignments = map[uuid.UUID]*domain.ModelAssignment{}

	assert.True(t, f.handler.Handle(context.Background(), f.envelope()))
	assert.Empty(t, f.store.saved)
}

func TestHandler_RetriesTransientStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.getErr = errors.New("connection reset")

	assert.False(t, f.handler.Handle(context.Background(), f.envelope()),
		"store connectivity failures are left for redelivery")
}

func TestHandler_RetriesLLMFailure(t *testing.T) {
	f := newFixture(t)
	f.client.err = llm.ErrRequestFailed

	assert.False(t, f.handler.Handle(context.Background(), f.envelope()))
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.memory.GetHistory(f.nodeID), "memory untouched on a failed turn")
}

func TestHandler_RetriesPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("deadlock detected")

	assert.False(t, f.handler.Handle(context.Background(), f.envelope()))
	assert.Empty(t, f.memory.GetHistory(f.nodeID))
	assert.Empty(t, f.publisher.events)
}

func TestHandler_ModelOverrideFromEntry(t *testing.T) {
	f := newFixture(t)

	env := f.envelope()
	env.Fields["model"] = "qwen2.5:7b"

	require.True(t, f.handler.Handle(context.Background(), env))
	assert.Equal(t, "qwen2.5:7b", f.client.lastReq.Model)
	assert.Equal(t, "qwen2.5:7b", f.store.saved[0].ModelName)
}
