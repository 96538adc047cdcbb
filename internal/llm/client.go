// Package llm talks to OpenAI-compatible chat completion upstreams.
//
// An Upstream opens a raw streaming response (server-sent events) for the
// relay to reframe, or runs a blocking completion. Upstreams never retry;
// fallback between providers is the relay's job.
package llm

import (
	"context"
	"io"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to Send and Complete.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Upstream is one chat completion provider.
type Upstream interface {
	// Name returns the provider name (e.g., "xai", "openrouter").
	Name() string

	// Matches reports whether a requested model id belongs to this provider.
	Matches(model string) bool

	// DefaultModel is the model used when this provider serves as fallback.
	DefaultModel() string

	// Send starts a streaming completion and returns the raw event stream.
	// Non-2xx responses are returned as *ProviderError and network failures
	// as *TransportError. Cancelling ctx aborts the request and the body.
	Send(ctx context.Context, apiKey string, req CompletionRequest) (io.ReadCloser, error)

	// Complete runs a blocking completion.
	Complete(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResponse, error)
}
