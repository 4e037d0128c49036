package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/stream"
)

func readAll(t *testing.T, log *stream.MemoryLog, key string) []stream.Envelope {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, log.CreateGroup(ctx, key, "test"))
	envs, err := log.ReadGroup(ctx, key, "test", "t1", 100)
	require.NoError(t, err)
	return envs
}

func TestStreamPublisher_Notify(t *testing.T) {
	log := stream.NewMemoryLog()
	pub := NewStreamPublisher(log, nil)

	err := pub.Notify(context.Background(), "conn-1", "jobCompleted", map[string]string{"jobId": "j1"})
	require.NoError(t, err)

	envs := readAll(t, log, ResponsesStream)
	require.Len(t, envs, 1)
	assert.Equal(t, "conn-1", envs[0].Fields["ConnectionId"])
	assert.Equal(t, "jobCompleted", envs[0].Fields["event"])
	assert.JSONEq(t, `{"jobId":"j1"}`, envs[0].Fields["Content"])
}

func TestStreamPublisher_PublishChatResult(t *testing.T) {
	log := stream.NewMemoryLog()
	pub := NewStreamPublisher(log, nil)

	chatID := uuid.New()
	require.NoError(t, pub.PublishChatResult(context.Background(), chatID))

	envs := readAll(t, log, ResultsStream)
	require.Len(t, envs, 1)
	assert.Equal(t, chatID.String(), envs[0].Fields["chatId"])
}

func TestStreamPublisher_PublishResultEvent(t *testing.T) {
	log := stream.NewMemoryLog()
	pub := NewStreamPublisher(log, nil)

	event := domain.ResultEvent{
		MessageID:          uuid.New(),
		NodeID:             uuid.New(),
		ProjectID:          uuid.New(),
		UserID:             uuid.New(),
		ClientConnectionID: "conn-9",
		WorkflowGroup:      "wf-group-1",
		Type:               domain.ResultEventChatReply,
		Payload:            "the reply",
		Timestamp:          time.Now().UTC(),
	}
	require.NoError(t, pub.PublishResultEvent(context.Background(), event))

	envs := readAll(t, log, ResultsStream)
	require.Len(t, envs, 1)
	fields := envs[0].Fields
	assert.Equal(t, event.MessageID.String(), fields["messageId"])
	assert.Equal(t, "chat_reply", fields["type"])
	assert.Equal(t, "the reply", fields["payload"])
	assert.Equal(t, "conn-9", fields["clientConnectionId"])
	assert.Equal(t, "wf-group-1", fields["workflowGroup"])
	assert.NotEmpty(t, fields["timestamp"])
}
