package domain

import (
	"encoding/json"
	"fmt"
)

// JobRole identifies which execution strategy handles a job. The set is
// closed: envelopes carrying any other value are rejected at the parse
// boundary rather than deep inside dispatch.
type JobRole string

// Possible job role values
const (
	RoleManager   JobRole = "manager"
	RoleInspector JobRole = "inspector"
	RoleAgent     JobRole = "agent"
	RoleChat      JobRole = "chat"
)

// ParseJobRole converts a raw role string into a JobRole.
// Returns ErrUnknownRole for values outside the closed set.
func ParseJobRole(s string) (JobRole, error) {
	switch JobRole(s) {
	case RoleManager, RoleInspector, RoleAgent, RoleChat:
		return JobRole(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// JobStatus represents the final state of an executed job.
type JobStatus string

// Possible job status values
const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobEnvelope is the parsed form of a jobs:<role> stream entry. The role
// is implicit in the stream the entry arrived on and is validated against
// the closed role set during parsing.
type JobEnvelope struct {
	JobID        string            `json:"job_id"`
	WorkflowID   string            `json:"workflow_id"`
	Role         JobRole           `json:"role"`
	ConnectionID string            `json:"connection_id"`
	Task         string            `json:"task"`
	Payload      map[string]string `json:"payload"`
}

// ParseJobEnvelope builds a JobEnvelope from the string fields of a
// stream entry. The payload field, when present, is a JSON object of
// string values. Returns ErrInvalidFormat for malformed payloads and
// ErrValidation for missing required fields.
func ParseJobEnvelope(role JobRole, fields map[string]string) (*JobEnvelope, error) {
	jobID := fields["jobId"]
	if jobID == "" {
		return nil, fmt.Errorf("%w: missing jobId", ErrValidation)
	}
	task := fields["task"]
	if task == "" {
		return nil, fmt.Errorf("%w: missing task", ErrValidation)
	}

	env := &JobEnvelope{
		JobID:        jobID,
		WorkflowID:   fields["workflowId"],
		Role:         role,
		ConnectionID: fields["connectionId"],
		Task:         task,
	}

	if raw := fields["payload"]; raw != "" {
		payload := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("%w: payload is not a JSON string map: %v", ErrInvalidFormat, err)
		}
		env.Payload = payload
	}

	return env, nil
}

// Fields converts the envelope back into the string map layout used for
// stream entries. The inverse of ParseJobEnvelope.
func (e *JobEnvelope) Fields() (map[string]string, error) {
	fields := map[string]string{
		"jobId":        e.JobID,
		"workflowId":   e.WorkflowID,
		"connectionId": e.ConnectionID,
		"task":         e.Task,
	}
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job payload: %w", err)
		}
		fields["payload"] = string(raw)
	}
	return fields, nil
}

// JobResult is the outcome of running a job.
type JobResult struct {
	Status JobStatus `json:"status"`
	Output string    `json:"output"`
}
