// Package chat implements the handler for jobs:chat stream entries. One
// entry is one conversational turn: resolve the chat's workflow context,
// assemble a prompt from configured instructions plus node memory, call
// the model, persist the reply, update memory, and publish the result.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
	"github.com/nodpt/workflow-engine/internal/memory"
	"github.com/nodpt/workflow-engine/internal/notify"
	"github.com/nodpt/workflow-engine/internal/platform/logger"
	"github.com/nodpt/workflow-engine/internal/store"
	"github.com/nodpt/workflow-engine/internal/stream"
)

// summaryFrame prefixes the rolling summary when it is injected into the
// prompt as memory context.
const summaryFrame = "Summary of the conversation so far: "

// Config holds the handler's tunables.
type Config struct {
	// RequestTimeout bounds the model call for one turn. If zero, the
	// listener's context governs alone.
	RequestTimeout time.Duration
}

// Handler orchestrates single chat turns. It implements the drop/retry
// contract the listener expects: structurally invalid turns (missing
// chat, node, project, template, or an empty message) are dropped,
// transient failures (store I/O, model connectivity) are reported for
// redelivery.
type Handler struct {
	store     store.WorkflowStore
	memory    *memory.Manager
	client    llm.Client
	publisher notify.ResultPublisher
	notifier  notify.Notifier
	config    Config
	logger    *slog.Logger
}

// NewHandler creates a chat turn handler. If log is nil, the default
// logger is used.
func NewHandler(
	st store.WorkflowStore,
	mem *memory.Manager,
	client llm.Client,
	publisher notify.ResultPublisher,
	notifier notify.Notifier,
	config Config,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:     st,
		memory:    mem,
		client:    client,
		publisher: publisher,
		notifier:  notifier,
		config:    config,
		logger:    log.With("component", "chat_handler"),
	}
}

// StreamHandler adapts the handler to the listener's callback shape.
func (h *Handler) StreamHandler() stream.Handler {
	return func(ctx context.Context, env stream.Envelope) bool {
		return h.Handle(ctx, env)
	}
}

// turnContext is everything resolved from the chat record's chained
// lookups before the prompt is assembled.
type turnContext struct {
	message    *domain.ChatMessage
	node       *domain.Node
	project    *domain.Project
	prompts    []domain.Prompt
	assignment *domain.ModelAssignment
}

// Handle processes one chat turn. The return value is the listener ack
// decision: true acknowledges the entry, false leaves it pending for
// redelivery.
func (h *Handler) Handle(ctx context.Context, env stream.Envelope) bool {
	entryLog := h.logger.With("entry_id", env.EntryID)
	ctx = logger.WithLogger(ctx, entryLog)

	chatID, err := uuid.Parse(env.Fields["chatId"])
	if err != nil {
		entryLog.Error("dropping chat entry with invalid chatId",
			"chat_id", env.Fields["chatId"],
			"error", err)
		return true
	}
	entryLog = entryLog.With("chat_id", chatID)

	tc, retry, err := h.resolveContext(ctx, chatID)
	if err != nil {
		if retry {
			entryLog.Warn("failed to resolve chat context", "error", err)
			return false
		}
		entryLog.Error("dropping chat turn with unresolvable context", "error", err)
		return true
	}

	summary, err := h.memory.LoadSummary(ctx, tc.node.ID)
	if err != nil {
		entryLog.Warn("failed to load conversation summary", "error", err)
		return false
	}

	modelName := tc.assignment.ModelName
	if override := env.Fields["model"]; override != "" {
		modelName = override
	}

	messages := h.assembleMessages(tc, summary)

	llmCtx := ctx
	if h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	replyText, err := h.client.Complete(llmCtx, llm.Request{
		Model:       modelName,
		Messages:    messages,
		Temperature: tc.assignment.Temperature,
		TopP:        tc.assignment.TopP,
		MaxTokens:   tc.assignment.MaxTokens,
	})
	if err != nil {
		entryLog.Warn("chat completion failed", "model", modelName, "error", err)
		return false
	}

	reply, err := domain.NewChatMessage(tc.node.ID, tc.message.UserID, domain.SenderAssistant, replyText)
	if err != nil {
		entryLog.Error("dropping turn with invalid model reply", "error", err)
		return true
	}
	reply.ModelName = modelName
	// Redelivered turns rebuild the same key, letting the store
	// deduplicate a reply persisted by a crashed predecessor.
	reply.IdempotencyKey = fmt.Sprintf("%s:%s", chatID, env.EntryID)

	if err := h.store.SaveChatMessage(ctx, reply); err != nil {
		entryLog.Warn("failed to persist assistant reply", "error", err)
		return false
	}

	h.updateMemory(tc, reply)
	h.publish(ctx, entryLog, tc, reply, env.Fields["connectionId"])

	entryLog.Info("chat turn completed",
		"node_id", tc.node.ID,
		"reply_id", reply.ID,
		"model", modelName)
	return true
}

// resolveContext performs the chained lookups from the chat record out
// to its model assignment. The retry result distinguishes transient
// store failures (true) from structurally missing references (false).
func (h *Handler) resolveContext(ctx context.Context, chatID uuid.UUID) (*turnContext, bool, error) {
	msg, err := h.store.GetChatMessage(ctx, chatID)
	if err != nil {
		return nil, !store.IsNotFound(err), fmt.Errorf("chat message %s: %w", chatID, err)
	}
	if msg.Text == "" {
		return nil, false, fmt.Errorf("chat message %s has no text", chatID)
	}

	node, err := h.store.GetNode(ctx, msg.NodeID)
	if err != nil {
		return nil, !store.IsNotFound(err), fmt.Errorf("node %s: %w", msg.NodeID, err)
	}

	project, err := h.store.GetProject(ctx, node.ProjectID)
	if err != nil {
		return nil, !store.IsNotFound(err), fmt.Errorf("project %s: %w", node.ProjectID, err)
	}

	template, err := h.store.GetTemplate(ctx, node.TemplateID)
	if err != nil {
		return nil, !store.IsNotFound(err), fmt.Errorf("template %s: %w", node.TemplateID, err)
	}

	prompts, err := h.store.GetPrompts(ctx, template.ID)
	if err != nil {
		return nil, true, fmt.Errorf("prompts for template %s: %w", template.ID, err)
	}

	assignment, err := h.store.GetModelAssignment(ctx, project.ID)
	if err != nil {
		return nil, !store.IsNotFound(err), fmt.Errorf("model assignment for project %s: %w", project.ID, err)
	}

	return &turnContext{
		message:    msg,
		node:       node,
		project:    project,
		prompts:    prompts,
		assignment: assignment,
	}, false, nil
}

// assembleMessages builds the ordered prompt: configured system prompts,
// then the rolling summary framed as memory context, then the bounded
// recent history, then the new user message.
func (h *Handler) assembleMessages(tc *turnContext, summary string) []llm.Message {
	history := h.memory.GetHistory(tc.node.ID)

	messages := make([]llm.Message, 0, len(tc.prompts)+len(history)+2)
	for _, p := range tc.prompts {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.Content})
	}
	if summary != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: summaryFrame + summary})
	}
	for _, hm := range history {
		role := llm.RoleUser
		if hm.Role == domain.HistoryRoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: hm.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: tc.message.Text})

	return messages
}

// updateMemory records both sides of the turn in the node's history
// window and queues a rolling summary update for each. Summarization is
// detached from the turn; its failures surface through the manager's
// failure counter, not here.
func (h *Handler) updateMemory(tc *turnContext, reply *domain.ChatMessage) {
	now := time.Now().UTC()
	h.memory.AddToHistory(tc.node.ID, domain.HistoryMessage{
		Role:      domain.HistoryRoleUser,
		Content:   tc.message.Text,
		Timestamp: now,
	})
	h.memory.AddToHistory(tc.node.ID, domain.HistoryMessage{
		Role:      domain.HistoryRoleAssistant,
		Content:   reply.Text,
		Timestamp: now,
	})

	h.memory.QueueSummarization(tc.node.ID, tc.message.Text, llm.RoleUser)
	h.memory.QueueSummarization(tc.node.ID, reply.Text, llm.RoleAssistant)
}

// publish emits the rich result event, the minimal chat result, and the
// direct client notification. All three are best-effort: the reply is
// already persisted, so a publish failure must not re-run the turn.
func (h *Handler) publish(ctx context.Context, entryLog *slog.Logger, tc *turnContext, reply *domain.ChatMessage, connectionID string) {
	event := notify.NewChatReplyEvent(reply, tc.project.ID, connectionID, "")
	if err := h.publisher.PublishResultEvent(ctx, event); err != nil {
		entryLog.Error("failed to publish chat result event",
			"reply_id", reply.ID,
			"error", err)
	}

	if err := h.publisher.PublishChatResult(ctx, reply.ID); err != nil {
		entryLog.Error("failed to publish chat result",
			"reply_id", reply.ID,
			"error", err)
	}

	if connectionID == "" {
		return
	}
	err := h.notifier.Notify(ctx, connectionID, "chatReply", map[string]string{
		"messageId": reply.ID.String(),
		"nodeId":    reply.NodeID.String(),
		"text":      reply.Text,
	})
	if err != nil {
		entryLog.Error("failed to notify client",
			"connection_id", connectionID,
			"error", err)
	}
}
