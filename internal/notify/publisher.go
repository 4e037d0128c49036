package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/stream"
)

// Stream keys the publisher writes to.
const (
	// ResultsStream receives chat/job result entries.
	ResultsStream = "results"

	// ResponsesStream is the response channel polled by the real-time
	// delivery layer; entries carry {ConnectionId, Content} payloads.
	ResponsesStream = "responses"
)

// StreamPublisher implements Notifier and ResultPublisher on top of the
// stream log.
type StreamPublisher struct {
	log    stream.Log
	logger *slog.Logger
}

// Ensure StreamPublisher implements both interfaces
var (
	_ Notifier        = (*StreamPublisher)(nil)
	_ ResultPublisher = (*StreamPublisher)(nil)
)

// NewStreamPublisher creates a publisher writing to the standard result
// and response streams. If logger is nil, the default logger is used.
func NewStreamPublisher(log stream.Log, logger *slog.Logger) *StreamPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPublisher{
		log:    log,
		logger: logger.With("component", "stream_publisher"),
	}
}

// Notify implements Notifier. The payload is serialized as the Content
// half of the {ConnectionId, Content} response channel layout.
func (p *StreamPublisher) Notify(ctx context.Context, connectionID, eventName string, payload any) error {
	content, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	_, err = p.log.Add(ctx, ResponsesStream, map[string]string{
		"ConnectionId": connectionID,
		"event":        eventName,
		"Content":      string(content),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("notification published",
		"connection_id", connectionID,
		"event", eventName)
	return nil
}

// PublishChatResult implements ResultPublisher.
func (p *StreamPublisher) PublishChatResult(ctx context.Context, chatID uuid.UUID) error {
	_, err := p.log.Add(ctx, ResultsStream, map[string]string{
		"chatId": chatID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish chat result: %w", err)
	}
	return nil
}

// PublishResultEvent implements ResultPublisher.
func (p *StreamPublisher) PublishResultEvent(ctx context.Context, event domain.ResultEvent) error {
	fields := map[string]string{
		"messageId": event.MessageID.String(),
		"nodeId":    event.NodeID.String(),
		"projectId": event.ProjectID.String(),
		"userId":    event.UserID.String(),
		"type":      string(event.Type),
		"payload":   event.Payload,
		"timestamp": strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
	}
	if event.ClientConnectionID != "" {
		fields["clientConnectionId"] = event.ClientConnectionID
	}
	if event.WorkflowGroup != "" {
		fields["workflowGroup"] = event.WorkflowGroup
	}

	_, err := p.log.Add(ctx, ResultsStream, fields)
	if err != nil {
		return fmt.Errorf("failed to publish result event: %w", err)
	}

	p.logger.Debug("result event published",
		"message_id", event.MessageID,
		"type", event.Type)
	return nil
}

// NewChatReplyEvent builds the rich result event for a persisted
// assistant reply.
func NewChatReplyEvent(msg *domain.ChatMessage, projectID uuid.UUID, connectionID, workflowGroup string) domain.ResultEvent {
	return domain.ResultEvent{
		MessageID:          msg.ID,
		NodeID:             msg.NodeID,
		ProjectID:          projectID,
		UserID:             msg.UserID,
		ClientConnectionID: connectionID,
		WorkflowGroup:      workflowGroup,
		Type:               domain.ResultEventChatReply,
		Payload:            msg.Text,
		Timestamp:          time.Now().UTC(),
	}
}
