// Package notify carries results back toward whichever client is
// waiting. The engine itself never talks to a socket: it appends result
// entries and response payloads to streams that the external real-time
// delivery layer fans out.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
)

// Notifier informs a connected client about a completed piece of work.
type Notifier interface {
	// Notify sends an event payload to the client identified by
	// connectionID. Best-effort: callers log failures but do not retry.
	Notify(ctx context.Context, connectionID, eventName string, payload any) error
}

// ResultPublisher records completed chat turns for downstream delivery.
type ResultPublisher interface {
	// PublishChatResult publishes the minimal result form: just the new
	// assistant message's chat ID.
	PublishChatResult(ctx context.Context, chatID uuid.UUID) error

	// PublishResultEvent publishes the rich result form used for
	// workflow-group and user routing.
	PublishResultEvent(ctx context.Context, event domain.ResultEvent) error
}
