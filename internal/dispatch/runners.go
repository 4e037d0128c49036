package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
)

// RunnerConfig holds the generation settings shared by the LLM-backed
// runners.
type RunnerConfig struct {
	// Model is the identifier sent to the inference backend.
	Model string

	// Temperature, TopP, and MaxTokens are passed through per request.
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Role-specific instruction sets. Each runner frames the job task with
// its own system instruction before calling the model.
const (
	managerInstruction = "You are the manager of an AI workflow. Break the task " +
		"into concrete steps, assign priorities, and state the expected outcome " +
		"of each step."

	inspectorInstruction = "You are the inspector of an AI workflow. Review the " +
		"task and its inputs critically: list defects, risks, and missing " +
		"information, then give a pass/fail verdict with reasons."

	agentInstruction = "You are a worker agent in an AI workflow. Carry out the " +
		"task directly and reply with the result only."
)

// llmRunner executes a job by sending its task plus payload context to
// the chat-completion backend under a role instruction.
type llmRunner struct {
	client      llm.Client
	instruction string
	config      RunnerConfig
}

// Ensure llmRunner implements Runner
var _ Runner = (*llmRunner)(nil)

// NewManagerRunner creates the runner for manager jobs.
func NewManagerRunner(client llm.Client, config RunnerConfig) Runner {
	return &llmRunner{client: client, instruction: managerInstruction, config: config}
}

// NewInspectorRunner creates the runner for inspector jobs.
func NewInspectorRunner(client llm.Client, config RunnerConfig) Runner {
	return &llmRunner{client: client, instruction: inspectorInstruction, config: config}
}

// NewAgentRunner creates the runner for agent jobs.
func NewAgentRunner(client llm.Client, config RunnerConfig) Runner {
	return &llmRunner{client: client, instruction: agentInstruction, config: config}
}

// Run implements Runner.
func (r *llmRunner) Run(ctx context.Context, job *domain.JobEnvelope) (domain.JobResult, error) {
	output, err := r.client.Complete(ctx, llm.Request{
		Model: r.config.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: r.instruction},
			{Role: llm.RoleUser, Content: buildTaskPrompt(job)},
		},
		Temperature: r.config.Temperature,
		TopP:        r.config.TopP,
		MaxTokens:   r.config.MaxTokens,
	})
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("job %s: %w", job.JobID, err)
	}

	return domain.JobResult{
		Status: domain.JobStatusCompleted,
		Output: output,
	}, nil
}

// buildTaskPrompt renders the task with its payload entries in a stable
// order so identical jobs produce identical prompts.
func buildTaskPrompt(job *domain.JobEnvelope) string {
	if len(job.Payload) == 0 {
		return job.Task
	}

	keys := make([]string, 0, len(job.Payload))
	for k := range job.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(job.Task)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, job.Payload[k])
	}
	return b.String()
}
