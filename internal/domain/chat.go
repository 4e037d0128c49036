package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for chat entities
var (
	ErrEmptyChatMessageID   = errors.New("chat message ID cannot be empty")
	ErrEmptyChatMessageNode = errors.New("chat message node ID cannot be empty")
	ErrEmptyChatMessageText = errors.New("chat message text cannot be empty")
	ErrInvalidChatSender    = errors.New("invalid chat message sender")
)

// ChatSender identifies who authored a chat message.
type ChatSender string

// Possible chat sender values
const (
	SenderUser      ChatSender = "user"
	SenderAssistant ChatSender = "assistant"
)

// ChatMessage is a single message in a node's conversation. Assistant
// replies carry an IdempotencyKey derived from the originating chat
// message and stream entry so redelivered turns can be deduplicated
// downstream without a schema change.
type ChatMessage struct {
	ID             uuid.UUID  `json:"id"`
	NodeID         uuid.UUID  `json:"node_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Sender         ChatSender `json:"sender"`
	Text           string     `json:"text"`
	ModelName      string     `json:"model_name,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewChatMessage creates a new ChatMessage for the given node, generating
// a fresh UUID and setting the creation timestamp.
// Returns an error if validation fails.
func NewChatMessage(nodeID, userID uuid.UUID, sender ChatSender, text string) (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:        uuid.New(),
		NodeID:    nodeID,
		UserID:    userID,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the ChatMessage has valid data.
func (m *ChatMessage) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyChatMessageID
	}

	if m.NodeID == uuid.Nil {
		return ErrEmptyChatMessageNode
	}

	if m.Text == "" {
		return ErrEmptyChatMessageText
	}

	if m.Sender != SenderUser && m.Sender != SenderAssistant {
		return ErrInvalidChatSender
	}

	return nil
}

// Node is a workflow node that chat turns are scoped to. Conversation
// memory is keyed by node ID.
type Node struct {
	ID         uuid.UUID `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	TemplateID uuid.UUID `json:"template_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Project groups nodes and owns the model assignment used for its chats.
type Project struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Template describes a node type and carries the ordered prompt set
// injected as system messages at the start of every chat turn.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is one configured system instruction belonging to a template.
// Position orders prompts within the assembled message list.
type Prompt struct {
	ID         uuid.UUID `json:"id"`
	TemplateID uuid.UUID `json:"template_id"`
	Content    string    `json:"content"`
	Position   int       `json:"position"`
}

// ModelAssignment binds a project to a model identifier plus the
// generation parameters passed through to the inference backend.
type ModelAssignment struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	ModelName   string    `json:"model_name"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}
