package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResultEventType classifies result events for downstream routing.
type ResultEventType string

// Possible result event types
const (
	ResultEventChatReply    ResultEventType = "chat_reply"
	ResultEventJobCompleted ResultEventType = "job_completed"
)

// ResultEvent is the rich result notification published to the results
// stream after a turn or job completes. The delivery layer uses the
// workflow group and user/connection identifiers to route it to whichever
// client is waiting.
type ResultEvent struct {
	MessageID          uuid.UUID       `json:"message_id"`
	NodeID             uuid.UUID       `json:"node_id"`
	ProjectID          uuid.UUID       `json:"project_id"`
	UserID             uuid.UUID       `json:"user_id"`
	ClientConnectionID string          `json:"client_connection_id,omitempty"`
	WorkflowGroup      string          `json:"workflow_group,omitempty"`
	Type               ResultEventType `json:"type"`
	Payload            string          `json:"payload"`
	Timestamp          time.Time       `json:"timestamp"`
}
