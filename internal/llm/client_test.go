package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(ProviderOptions{
		Name:         "xai",
		BaseURL:      srv.URL + "/v1/",
		DefaultModel: "grok-4.1",
		Prefixes:     []string{"xai/", "grok"},
		Headers:      map[string]string{"X-Title": "Oracle"},
	}, silentLog())
}

// --- Provider.Send tests ---

func TestSend_RequestShape(t *testing.T) {
	var got chatRequest
	var auth, title, path string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, SSE("Hi"))
	})

	body, err := p.Send(context.Background(), "sk-test", CompletionRequest{
		Model:    "xai/grok-4.1",
		System:   "You are a narrator.",
		Messages: []Message{{Role: RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":"Hi"`)

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "Oracle", title)
	assert.Equal(t, "grok-4.1", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "You are a narrator."}, got.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "Hello"}, got.Messages[1])
}

func TestSend_RequestOverrides(t *testing.T) {
	var got chatRequest
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, SSE())
	})

	temp := 0.2
	body, err := p.Send(context.Background(), "k", CompletionRequest{
		Model:       "grok-3",
		Messages:    []Message{{Role: RoleUser, Content: "x"}},
		Temperature: &temp,
		MaxTokens:   50,
	})
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "grok-3", got.Model)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 50, got.MaxTokens)
	assert.Len(t, got.Messages, 1, "no system message when none is given")
}

func TestSend_UpstreamError(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	})

	_, err := p.Send(context.Background(), "k", CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 429, perr.Code)
	assert.Equal(t, "xai", perr.Provider)
	assert.Equal(t, "rate limited", perr.Message)
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProvider(ProviderOptions{Name: "openrouter", BaseURL: url}, silentLog())
	_, err := p.Send(context.Background(), "k", CompletionRequest{})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "openrouter", terr.Provider)
}

func TestSend_Cancelled(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Send(ctx, "k", CompletionRequest{})
	assert.True(t, errors.Is(err, context.Canceled))
}

// --- Provider.Complete tests ---

func TestComplete(t *testing.T) {
	var gotModel string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"grok-4.1",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	})

	resp, err := p.Complete(context.Background(), "k", CompletionRequest{
		Model:    "xai/grok-4.1",
		Messages: []Message{{Role: RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "grok-4.1", gotModel)
	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestComplete_UpstreamError(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"auth"}}`)
	})

	_, err := p.Complete(context.Background(), "k", CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 401, perr.Code)
}

// --- Model routing tests ---

func TestProviderMatchesAndEffectiveModel(t *testing.T) {
	p := NewProvider(ProviderOptions{Name: "xai", DefaultModel: "grok-4.1", Prefixes: []string{"xai/", "grok"}}, silentLog())

	assert.True(t, p.Matches("xai/grok-4.1"))
	assert.True(t, p.Matches("grok-3"))
	assert.False(t, p.Matches("openai/gpt-4o"))

	assert.Equal(t, "grok-4.1", p.EffectiveModel("xai/grok-4.1"))
	assert.Equal(t, "grok-3", p.EffectiveModel("grok-3"))
	assert.Equal(t, "grok-4.1", p.EffectiveModel(""))

	or := NewProvider(ProviderOptions{Name: "openrouter"}, silentLog())
	assert.Equal(t, "openai/gpt-4o", or.EffectiveModel("openai/gpt-4o"))
	assert.Equal(t, "meta/llama", or.EffectiveModel("openrouter/meta/llama"))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"error":{"message":"boom"}}`), "500"))
	assert.Equal(t, "flat", errorMessage([]byte(`{"error":"flat"}`), "500"))
	assert.Equal(t, "plain text", errorMessage([]byte("  plain text\n"), "500"))
	assert.Equal(t, "502 Bad Gateway", errorMessage(nil, "502 Bad Gateway"))
}

// --- Registry tests ---

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register(&MockUpstream{ProviderName: "b"})
	reg.Register(&MockUpstream{ProviderName: "a"})

	u, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", u.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.Defaults()
	reg := NewRegistryFromConfig(cfg, silentLog())

	assert.Equal(t, []string{"openrouter", "xai"}, reg.List())
	xai, ok := reg.Get("xai")
	require.True(t, ok)
	assert.True(t, xai.Matches("grok-4.1"))
	assert.Equal(t, "grok-4.1", xai.DefaultModel())

	or, ok := reg.Get("openrouter")
	require.True(t, ok)
	assert.Equal(t, config.DefaultOpenRouterModel, or.DefaultModel())
}

func TestNewRegistryFromConfig_ZeroTemperature(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, SSE())
	}))
	t.Cleanup(srv.Close)

	zero := 0.0
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{
		"xai": {BaseURL: srv.URL, DefaultModel: "grok-4.1", Temperature: &zero},
	}
	xai, ok := NewRegistryFromConfig(cfg, silentLog()).Get("xai")
	require.True(t, ok)

	body, err := xai.Send(context.Background(), "k", CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.NoError(t, err)
	body.Close()
	assert.Zero(t, got.Temperature)
}

func TestCredentialsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	p := cfg.Providers["xai"]
	p.APIKey = "xai-key"
	cfg.Providers["xai"] = p

	creds := CredentialsFromConfig(cfg)
	assert.Equal(t, "xai-key", creds.Key("xai"))
	assert.Equal(t, "", creds.Key("openrouter"))
}

// --- Credentials tests ---

func TestCredentialsMerge(t *testing.T) {
	server := Credentials{"xai": "env-xai", "openrouter": "env-or"}
	legacy := Uniform("shared", "xai", "openrouter")
	request := Credentials{"openrouter": "req-or", "xai": ""}

	merged := server.Merge(legacy).Merge(request)
	assert.Equal(t, "shared", merged.Key("xai"))
	assert.Equal(t, "req-or", merged.Key("openrouter"))
	assert.True(t, merged.Any())

	assert.False(t, Credentials{"xai": ""}.Any())
	assert.Empty(t, Uniform("", "xai"))
}

func TestSSE(t *testing.T) {
	assert.Equal(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\\\"b\"}}]}\n\ndata: [DONE]\n\n",
		SSE(`a"b`))
}
