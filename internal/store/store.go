package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
)

// WorkflowStore provides the chained lookups the chat handler resolves
// a turn's context from, plus chat message persistence.
type WorkflowStore interface {
	// GetChatMessage retrieves a chat message by ID.
	// Returns ErrChatMessageNotFound if it does not exist.
	GetChatMessage(ctx context.Context, id uuid.UUID) (*domain.ChatMessage, error)

	// SaveChatMessage persists a new chat message.
	SaveChatMessage(ctx context.Context, msg *domain.ChatMessage) error

	// GetNode retrieves a node by ID.
	// Returns ErrNodeNotFound if it does not exist.
	GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error)

	// GetProject retrieves a project by ID.
	// Returns ErrProjectNotFound if it does not exist.
	GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error)

	// GetTemplate retrieves a template by ID.
	// Returns ErrTemplateNotFound if it does not exist.
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)

	// GetPrompts returns the template's prompts ordered by position.
	// A template with no prompts returns an empty slice, not an error.
	GetPrompts(ctx context.Context, templateID uuid.UUID) ([]domain.Prompt, error)

	// GetModelAssignment returns the model bound to the project.
	// Returns ErrModelAssignmentNotFound if none is assigned.
	GetModelAssignment(ctx context.Context, projectID uuid.UUID) (*domain.ModelAssignment, error)
}

// JobResultStore persists the outcome of executed jobs.
type JobResultStore interface {
	// UpsertJobResult inserts or replaces the result row for jobID.
	UpsertJobResult(ctx context.Context, jobID string, status domain.JobStatus, output string) error
}

// SummaryStore is the persistent side of the conversational memory
// manager's rolling summaries.
type SummaryStore interface {
	// GetSummary returns the persisted summary for the node.
	// Returns ErrSummaryNotFound when none has been written yet.
	GetSummary(ctx context.Context, nodeID uuid.UUID) (string, error)

	// SaveSummary inserts or replaces the node's summary.
	SaveSummary(ctx context.Context, nodeID uuid.UUID, summary string) error

	// DeleteSummary removes the node's summary. Deleting a summary that
	// does not exist is a no-op.
	DeleteSummary(ctx context.Context, nodeID uuid.UUID) error
}
