// Package llm defines the chat-completion client interface the engine
// consumes and the request/message types shared by its provider
// adapters. The inference backend is a black box: runners and the chat
// handler only ever see Complete.
package llm

import (
	"context"
	"errors"
)

// Common errors returned by LLM clients.
var (
	// ErrEmptyResponse is returned when the provider answered without
	// any usable assistant content.
	ErrEmptyResponse = errors.New("model returned no content")

	// ErrRequestFailed wraps transport and server errors from the
	// provider. Callers treat these as transient and let the listener
	// loop redeliver.
	ErrRequestFailed = errors.New("chat completion request failed")
)

// Role identifies the author of a chat message.
type Role string

// Possible message roles
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the ordered message list sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat-completion call: the resolved model
// identifier, the assembled messages, and per-model generation
// parameters.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Client is the minimal chat-completion interface consumed by the
// engine. Implementations must honor ctx cancellation.
type Client interface {
	// Complete sends the request and returns the assistant's reply text.
	Complete(ctx context.Context, req Request) (string, error)
}
