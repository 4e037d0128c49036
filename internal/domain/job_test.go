package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobRole(t *testing.T) {
	for _, valid := range []string{"manager", "inspector", "agent", "chat"} {
		role, err := ParseJobRole(valid)
		require.NoError(t, err)
		assert.Equal(t, JobRole(valid), role)
	}

	_, err := ParseJobRole("janitor")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = ParseJobRole("")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestParseJobEnvelope(t *testing.T) {
	fields := map[string]string{
		"jobId":        "job-1",
		"workflowId":   "wf-9",
		"connectionId": "conn-4",
		"task":         "summarize the board",
		"payload":      `{"board":"kanban-3"}`,
	}

	env, err := ParseJobEnvelope(RoleManager, fields)
	require.NoError(t, err)
	assert.Equal(t, "job-1", env.JobID)
	assert.Equal(t, "wf-9", env.WorkflowID)
	assert.Equal(t, RoleManager, env.Role)
	assert.Equal(t, "conn-4", env.ConnectionID)
	assert.Equal(t, "summarize the board", env.Task)
	assert.Equal(t, map[string]string{"board": "kanban-3"}, env.Payload)
}

func TestParseJobEnvelope_MissingRequiredFields(t *testing.T) {
	_, err := ParseJobEnvelope(RoleAgent, map[string]string{"task": "do it"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseJobEnvelope(RoleAgent, map[string]string{"jobId": "job-2"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseJobEnvelope_MalformedPayload(t *testing.T) {
	fields := map[string]string{
		"jobId":   "job-3",
		"task":    "inspect",
		"payload": `{"unterminated`,
	}

	_, err := ParseJobEnvelope(RoleInspector, fields)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestJobEnvelope_FieldsRoundTrip(t *testing.T) {
	env := &JobEnvelope{
		JobID:        "job-7",
		WorkflowID:   "wf-1",
		Role:         RoleAgent,
		ConnectionID: "conn-2",
		Task:         "fetch metrics",
		Payload:      map[string]string{"window": "24h"},
	}

	fields, err := env.Fields()
	require.NoError(t, err)

	parsed, err := ParseJobEnvelope(RoleAgent, fields)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)
}
