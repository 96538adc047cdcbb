package relay

import (
	"context"
	"errors"
	"io"

	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/logging"
)

// Request is one relayed chat turn.
type Request struct {
	Model       string
	System      string
	Messages    []llm.Message
	Credentials llm.Credentials
	Temperature *float64
	MaxTokens   int
}

func (r Request) completion(model string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:       model,
		System:      r.System,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// Stream is an open upstream response being reframed into deltas.
type Stream struct {
	*Reframer
	body     io.ReadCloser
	provider string
	model    string
}

// Provider returns the name of the upstream serving the stream.
func (s *Stream) Provider() string { return s.provider }

// Model returns the model id sent to the upstream.
func (s *Stream) Model() string { return s.model }

// Close releases the upstream response.
func (s *Stream) Close() error { return s.body.Close() }

// Relay opens upstream streams, falling back between providers.
type Relay struct {
	selector *Selector
	log      *logging.Logger
}

// New creates a relay.
func New(selector *Selector, log *logging.Logger) *Relay {
	return &Relay{selector: selector, log: log.Sub("relay")}
}

// Selector returns the relay's selector.
func (r *Relay) Selector() *Selector { return r.selector }

// errNoCredentials is the message used when the plan is empty.
const errNoCredentials = "API key required (xAI or OpenRouter)"

// Open tries each planned attempt in order and returns the first stream
// whose upstream answered 2xx. Provider and transport errors move on to the
// next attempt; cancellation of ctx stops immediately. When every attempt
// fails the last error is returned.
func (r *Relay) Open(ctx context.Context, req Request) (*Stream, error) {
	plan := r.selector.Plan(req.Model, req.Credentials)
	if len(plan) == 0 {
		return nil, &llm.ConfigurationError{Message: errNoCredentials}
	}

	var lastErr error
	for i, a := range plan {
		body, err := a.Upstream.Send(ctx, a.APIKey, req.completion(a.Model))
		if err == nil {
			r.log.Debug().
				Str("provider", a.Provider()).
				Str("model", a.Model).
				Int("attempt", i+1).
				Msg("upstream stream opened")
			return &Stream{
				Reframer: NewReframer(body, r.log),
				body:     body,
				provider: a.Provider(),
				model:    a.Model,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		r.log.Warn().
			Str("provider", a.Provider()).
			Str("model", a.Model).
			Err(err).
			Msg("upstream failed, trying next provider")
	}
	return nil, lastErr
}

// Complete runs a blocking completion with the same fallback policy as Open.
func (r *Relay) Complete(ctx context.Context, req Request) (*llm.CompletionResponse, error) {
	plan := r.selector.Plan(req.Model, req.Credentials)
	if len(plan) == 0 {
		return nil, &llm.ConfigurationError{Message: errNoCredentials}
	}

	var lastErr error
	for _, a := range plan {
		resp, err := a.Upstream.Complete(ctx, a.APIKey, req.completion(a.Model))
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		r.log.Warn().Str("provider", a.Provider()).Err(err).Msg("upstream failed, trying next provider")
	}
	return nil, lastErr
}

// isRetryable reports whether another provider should be tried. Any
// upstream rejection or transport failure qualifies.
func isRetryable(err error) bool {
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		return true
	}
	var terr *llm.TransportError
	return errors.As(err, &terr)
}
