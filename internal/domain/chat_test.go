package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatMessage(t *testing.T) {
	nodeID := uuid.New()
	userID := uuid.New()

	msg, err := NewChatMessage(nodeID, userID, SenderUser, "hello")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, nodeID, msg.NodeID)
	assert.Equal(t, userID, msg.UserID)
	assert.Equal(t, SenderUser, msg.Sender)
	assert.Equal(t, "hello", msg.Text)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestNewChatMessage_Validation(t *testing.T) {
	_, err := NewChatMessage(uuid.Nil, uuid.New(), SenderUser, "hello")
	assert.ErrorIs(t, err, ErrEmptyChatMessageNode)

	_, err = NewChatMessage(uuid.New(), uuid.New(), SenderUser, "")
	assert.ErrorIs(t, err, ErrEmptyChatMessageText)

	_, err = NewChatMessage(uuid.New(), uuid.New(), ChatSender("bot"), "hi")
	assert.ErrorIs(t, err, ErrInvalidChatSender)
}
