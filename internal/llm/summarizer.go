package llm

import (
	"context"
	"fmt"
)

// Summarizer folds one new message into a running conversation summary.
type Summarizer interface {
	// Summarize returns the new summary after incorporating the message.
	// The result never exceeds the summarizer's configured length bound.
	Summarize(ctx context.Context, oldSummary, newContent string, role Role) (string, error)
}

// RollingSummarizer implements Summarizer on a chat-completion client.
// The length bound is enforced twice: the prompt asks for it, and the
// output is hard-truncated in case the model ignores the instruction.
type RollingSummarizer struct {
	client    Client
	model     string
	maxLength int
}

// Ensure RollingSummarizer implements Summarizer
var _ Summarizer = (*RollingSummarizer)(nil)

// NewRollingSummarizer creates a summarizer using the given client and
// model. maxLength bounds the summary in runes and must be positive.
func NewRollingSummarizer(client Client, model string, maxLength int) (*RollingSummarizer, error) {
	if client == nil {
		return nil, fmt.Errorf("summarizer client cannot be nil")
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("summary length bound must be positive, got %d", maxLength)
	}

	return &RollingSummarizer{
		client:    client,
		model:     model,
		maxLength: maxLength,
	}, nil
}

// Summarize implements Summarizer.
func (s *RollingSummarizer) Summarize(ctx context.Context, oldSummary, newContent string, role Role) (string, error) {
	instruction := fmt.Sprintf(
		"You maintain a rolling summary of a conversation. "+
			"Fold the new message into the existing summary, keeping facts, "+
			"decisions, and open questions. Reply with only the updated summary, "+
			"at most %d characters.", s.maxLength)

	prompt := fmt.Sprintf("Existing summary:\n%s\n\nNew %s message:\n%s", oldSummary, role, newContent)
	if oldSummary == "" {
		prompt = fmt.Sprintf("New %s message:\n%s", role, newContent)
	}

	summary, err := s.client.Complete(ctx, Request{
		Model: s.model,
		Messages: []Message{
			{Role: RoleSystem, Content: instruction},
			{Role: RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("rolling summarization failed: %w", err)
	}

	return truncate(summary, s.maxLength), nil
}

// truncate bounds s to max runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
