package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

// MockUpstream is a test double for Upstream.
type MockUpstream struct {
	ProviderName string
	Prefixes     []string
	Default      string
	SendFunc     func(ctx context.Context, apiKey string, req CompletionRequest) (io.ReadCloser, error)
	CompleteFunc func(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResponse, error)
}

func (m *MockUpstream) Name() string { return m.ProviderName }

func (m *MockUpstream) DefaultModel() string { return m.Default }

func (m *MockUpstream) Matches(model string) bool {
	for _, p := range m.Prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (m *MockUpstream) Send(ctx context.Context, apiKey string, req CompletionRequest) (io.ReadCloser, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, apiKey, req)
	}
	return io.NopCloser(strings.NewReader(SSE("mock response"))), nil
}

func (m *MockUpstream) Complete(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, apiKey, req)
	}
	return &CompletionResponse{Content: "mock response"}, nil
}

// SSE renders content deltas as an OpenAI-style event stream ending in
// [DONE]. Useful for fake upstreams in tests.
func SSE(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		b.WriteString(`data: {"choices":[{"delta":{"content":`)
		b.WriteString(quoteJSON(d))
		b.WriteString("}}]}\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
