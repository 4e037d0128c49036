// Package gemini implements llm.Client against the Gemini API. It is
// the hosted alternative to the default local OpenAI-compatible
// provider; system prompts are folded into the system instruction and
// the remaining turns become user/model contents.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/nodpt/workflow-engine/internal/llm"
)

// Client wraps the genai SDK behind the llm.Client interface.
type Client struct {
	client *genai.Client
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)

// NewClient creates a Gemini-backed chat completion client.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	contents, system := buildContents(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrRequestFailed, err)
	}

	text := resp.Text()
	if text == "" {
		return "", llm.ErrEmptyResponse
	}

	return text, nil
}

// buildContents splits the message list into Gemini contents plus a
// combined system instruction. Gemini has no system role inside
// contents; consecutive system prompts are joined in order.
func buildContents(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	return contents, strings.Join(system, "\n\n")
}
