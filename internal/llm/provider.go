package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/soyeahso/oracle/internal/logging"
)

// Defaults applied when neither the request nor the provider config sets a value.
const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 800
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 64 << 10

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	Name             string
	BaseURL          string // e.g. https://api.x.ai/v1
	DefaultModel     string
	Prefixes         []string
	Headers          map[string]string
	Temperature      *float64 // nil means DefaultTemperature
	MaxTokens        int
	ConnectTimeout   time.Duration
	FirstByteTimeout time.Duration
}

// Provider is an Upstream speaking the OpenAI chat completions protocol.
type Provider struct {
	opts ProviderOptions
	http *http.Client
	log  *logging.Logger
}

// NewProvider creates a provider. There is no overall request timeout: a
// stream may legitimately run for minutes once the first byte has arrived.
func NewProvider(opts ProviderOptions, log *logging.Logger) *Provider {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.FirstByteTimeout == 0 {
		opts.FirstByteTimeout = 60 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.FirstByteTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
	}

	return &Provider{
		opts: opts,
		http: &http.Client{Transport: &headerTransport{base: transport, headers: opts.Headers}},
		log:  log.Sub("llm." + opts.Name),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.opts.Name }

// DefaultModel returns the provider's fallback model.
func (p *Provider) DefaultModel() string { return p.opts.DefaultModel }

// Matches reports whether model starts with one of the provider's prefixes.
func (p *Provider) Matches(model string) bool {
	for _, prefix := range p.opts.Prefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// EffectiveModel strips the provider's own namespace from a model id, so
// "xai/grok-4.1" becomes "grok-4.1" for the xai provider. Other namespaces
// are left alone. An empty id resolves to the default model.
func (p *Provider) EffectiveModel(model string) string {
	if model == "" {
		return p.opts.DefaultModel
	}
	return strings.TrimPrefix(model, p.opts.Name+"/")
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

func (p *Provider) buildMessages(req CompletionRequest) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	}
	return append(msgs, req.Messages...)
}

func (p *Provider) temperature(req CompletionRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	if p.opts.Temperature != nil {
		return *p.opts.Temperature
	}
	return DefaultTemperature
}

func (p *Provider) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.opts.MaxTokens
}

// Send posts a streaming chat completion and returns the response body once
// a 2xx status has been received.
func (p *Provider) Send(ctx context.Context, apiKey string, req CompletionRequest) (io.ReadCloser, error) {
	model := p.EffectiveModel(req.Model)
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    p.buildMessages(req),
		Temperature: p.temperature(req),
		MaxTokens:   p.maxTokens(req),
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	p.log.Debug().Str("model", model).Int("messages", len(req.Messages)).Msg("sending stream request")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Provider: p.opts.Name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := &ProviderError{
			Provider: p.opts.Name,
			Code:     resp.StatusCode,
			Message:  errorMessage(body, resp.Status),
		}
		p.log.Warn().Int("status", resp.StatusCode).Str("model", model).Msg("upstream rejected request")
		return nil, perr
	}

	return resp.Body, nil
}

// Complete runs a blocking chat completion through the go-openai client.
func (p *Provider) Complete(ctx context.Context, apiKey string, req CompletionRequest) (*CompletionResponse, error) {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.opts.BaseURL
	cfg.HTTPClient = p.http
	client := openai.NewClientWithConfig(cfg)

	msgs := p.buildMessages(req)
	oaMsgs := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		oaMsgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	// go-openai omits a zero temperature; the smallest float keeps it on the wire.
	temp := float32(p.temperature(req))
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}
	model := p.EffectiveModel(req.Model)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    oaMsgs,
		Temperature: temp,
		MaxTokens:   p.maxTokens(req),
	})
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.opts.Name, Message: "response has no choices"}
	}

	return &CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classify maps go-openai errors onto this package's error types.
func (p *Provider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.opts.Name, Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: p.opts.Name, Code: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &TransportError{Provider: p.opts.Name, Err: err}
}

// errorMessage extracts a readable message from an upstream error body.
// OpenAI-style bodies carry {"error":{"message":...}}; some providers send
// {"error":"..."}; anything else is returned as trimmed text.
func errorMessage(body []byte, fallback string) string {
	var structured struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &structured) == nil && len(structured.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(structured.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if json.Unmarshal(structured.Error, &s) == nil && s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fallback
}

// headerTransport adds fixed provider headers (OpenRouter's HTTP-Referer and
// X-Title) to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
