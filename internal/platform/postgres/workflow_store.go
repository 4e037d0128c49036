package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/store"
)

// PostgresWorkflowStore implements the store.WorkflowStore interface
// using a PostgreSQL database as the storage backend.
type PostgresWorkflowStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkflowStore creates a new PostgreSQL implementation of
// the WorkflowStore interface. It accepts a database connection or
// transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresWorkflowStore(db store.DBTX, logger *slog.Logger) *PostgresWorkflowStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresWorkflowStore{
		db:     db,
		logger: logger.With(slog.String("component", "workflow_store")),
	}
}

// Ensure PostgresWorkflowStore implements store.WorkflowStore interface
var _ store.WorkflowStore = (*PostgresWorkflowStore)(nil)

// GetChatMessage implements store.WorkflowStore.GetChatMessage.
func (s *PostgresWorkflowStore) GetChatMessage(ctx context.Context, id uuid.UUID) (*domain.ChatMessage, error) {
	query := `
		SELECT id, node_id, user_id, sender, text, model_name, idempotency_key, created_at
		FROM chat_messages
		WHERE id = $1`

	var msg domain.ChatMessage
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.NodeID,
		&msg.UserID,
		&msg.Sender,
		&msg.Text,
		&msg.ModelName,
		&msg.IdempotencyKey,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, MapError(err, store.ErrChatMessageNotFound)
	}
	return &msg, nil
}

// SaveChatMessage implements store.WorkflowStore.SaveChatMessage.
// Replies carrying an idempotency key already present in the table are
// treated as already saved, so redelivered turns do not duplicate them.
func (s *PostgresWorkflowStore) SaveChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO chat_messages (id, node_id, user_id, sender, text, model_name, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) WHERE idempotency_key <> '' DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.NodeID,
		msg.UserID,
		msg.Sender,
		msg.Text,
		msg.ModelName,
		msg.IdempotencyKey,
		msg.CreatedAt,
	)
	if err != nil {
		return MapError(err, store.ErrChatMessageNotFound)
	}
	return nil
}

// GetNode implements store.WorkflowStore.GetNode.
func (s *PostgresWorkflowStore) GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error) {
	query := `
		SELECT id, project_id, template_id, name, created_at
		FROM nodes
		WHERE id = $1`

	var node domain.Node
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&node.ID,
		&node.ProjectID,
		&node.TemplateID,
		&node.Name,
		&node.CreatedAt,
	)
	if err != nil {
		return nil, MapError(err, store.ErrNodeNotFound)
	}
	return &node, nil
}

// GetProject implements store.WorkflowStore.GetProject.
func (s *PostgresWorkflowStore) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	query := `
		SELECT id, owner_id, name, created_at
		FROM projects
		WHERE id = $1`

	var project domain.Project
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.OwnerID,
		&project.Name,
		&project.CreatedAt,
	)
	if err != nil {
		return nil, MapError(err, store.ErrProjectNotFound)
	}
	return &project, nil
}

// GetTemplate implements store.WorkflowStore.GetTemplate.
func (s *PostgresWorkflowStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `
		SELECT id, name, created_at
		FROM templates
		WHERE id = $1`

	var template domain.Template
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.Name,
		&template.CreatedAt,
	)
	if err != nil {
		return nil, MapError(err, store.ErrTemplateNotFound)
	}
	return &template, nil
}

// GetPrompts implements store.WorkflowStore.GetPrompts. Prompts come
// back ordered by position so the assembled system messages keep their
// configured order.
func (s *PostgresWorkflowStore) GetPrompts(ctx context.Context, templateID uuid.UUID) ([]domain.Prompt, error) {
	query := `
		SELECT id, template_id, content, position
		FROM prompts
		WHERE template_id = $1
		ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, MapError(err, store.ErrTemplateNotFound)
	}
	defer func() { _ = rows.Close() }()

	var prompts []domain.Prompt
	for rows.Next() {
		var p domain.Prompt
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.Content, &p.Position); err != nil {
			return nil, MapError(err, store.ErrTemplateNotFound)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err, store.ErrTemplateNotFound)
	}
	return prompts, nil
}

// GetModelAssignment implements store.WorkflowStore.GetModelAssignment.
func (s *PostgresWorkflowStore) GetModelAssignment(ctx context.Context, projectID uuid.UUID) (*domain.ModelAssignment, error) {
	query := `
		SELECT id, project_id, model_name, temperature, top_p, max_tokens
		FROM model_assignments
		WHERE project_id = $1`

	var a domain.ModelAssignment
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&a.ID,
		&a.ProjectID,
		&a.ModelName,
		&a.Temperature,
		&a.TopP,
		&a.MaxTokens,
	)
	if err != nil {
		return nil, MapError(err, store.ErrModelAssignmentNotFound)
	}
	return &a, nil
}
