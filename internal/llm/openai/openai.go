// Package openai implements llm.Client over any OpenAI-compatible chat
// completions endpoint. In the usual deployment this is the local
// inference service (llama.cpp/Ollama style), selected via base URL.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nodpt/workflow-engine/internal/llm"
)

// Options configure the OpenAI-compatible client adapter.
type Options struct {
	// BaseURL points at the chat completions endpoint. Empty uses the
	// SDK default (api.openai.com).
	BaseURL string

	// APIKey authenticates the request. Local inference services accept
	// any non-empty value.
	APIKey string
}

// Client wraps the OpenAI SDK behind the llm.Client interface.
type Client struct {
	client openai.Client
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)

// NewClient creates an adapter for an OpenAI-compatible endpoint.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var reqOpts []option.RequestOption
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}

	return &Client{client: openai.NewClient(reqOpts...)}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrRequestFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", llm.ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

// buildMessages converts the engine's message list into SDK params.
func buildMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
