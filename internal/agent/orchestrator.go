// Package agent runs roleplay turns against the relay and owns the session
// lifecycle: nodes, relationships and the per-node turn state machine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/hooks"
	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/logging"
	"github.com/soyeahso/oracle/internal/relay"
)

var (
	// ErrTurnInFlight is returned when a node already has a turn streaming.
	ErrTurnInFlight = errors.New("a turn is already in flight for this node")

	// ErrInterjected is returned by Send when the turn was cancelled by
	// Interject.
	ErrInterjected = errors.New("turn interjected")

	// ErrEmptyCompletion is returned when the upstream finished without
	// producing any text.
	ErrEmptyCompletion = errors.New("upstream returned an empty completion")
)

// TurnState is where a node's turn stands. Committed and Failed are
// outcomes; once a turn ends the node is Idle again.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnSending
	TurnStreaming
	TurnCommitted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnSending:
		return "sending"
	case TurnStreaming:
		return "streaming"
	case TurnCommitted:
		return "committed"
	case TurnFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s TurnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TurnRequest is one user message on a session node.
type TurnRequest struct {
	SessionID string
	NodeID    string // empty means the active node
	Content   string

	// SpeakerID is the character the reply is attributed to.
	SpeakerID  string
	Characters []domain.Character

	Model        string // overrides the session model
	SystemPrompt string // replaces the generated prompt
	GlobalPrompt string // extra instructions for the generated prompt
	Credentials  llm.Credentials
}

// TurnResult is a committed turn.
type TurnResult struct {
	SessionID   string         `json:"sessionId"`
	NodeID      string         `json:"nodeId"`
	UserMessage domain.Message `json:"userMessage"`
	Reply       domain.Message `json:"reply"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Deltas      int            `json:"deltas"`
	Truncated   bool           `json:"truncated,omitempty"` // upstream closed without [DONE]
	Duration    time.Duration  `json:"duration"`
}

// Accumulator collects streamed deltas in arrival order. It is discarded
// unless the turn commits.
type Accumulator struct {
	b strings.Builder
	n int
}

// Append adds a delta.
func (a *Accumulator) Append(d relay.Delta) {
	a.b.WriteString(d.Text)
	a.n++
}

// String returns the concatenated text.
func (a *Accumulator) String() string { return a.b.String() }

// Count returns the number of deltas appended.
func (a *Accumulator) Count() int { return a.n }

// Reset drops everything accumulated.
func (a *Accumulator) Reset() {
	a.b.Reset()
	a.n = 0
}

// turn is an in-flight Send.
type turn struct {
	state       TurnState
	cancel      context.CancelFunc
	interjected bool
}

// Orchestrator drives turns and session mutations.
type Orchestrator struct {
	relay *relay.Relay
	store SessionStore
	hooks *hooks.Manager
	creds llm.Credentials
	log   *logging.Logger

	// docMu serializes load-mutate-save cycles on session documents.
	docMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]*turn      // sessionID/nodeID → turn
	last     map[string]TurnState // outcome of the last turn per node
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHooks sets the hook manager that receives session and turn events.
func WithHooks(hm *hooks.Manager) Option {
	return func(o *Orchestrator) { o.hooks = hm }
}

// WithCredentials sets process-level provider keys. Keys sent with a turn
// take precedence.
func WithCredentials(c llm.Credentials) Option {
	return func(o *Orchestrator) { o.creds = c }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(r *relay.Relay, store SessionStore, log *logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		relay:    r,
		store:    store,
		log:      log.Sub("agent"),
		inflight: make(map[string]*turn),
		last:     make(map[string]TurnState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func turnKey(sessionID, nodeID string) string {
	return sessionID + "/" + nodeID
}

// State returns the state of the node's in-flight turn, or TurnIdle.
func (o *Orchestrator) State(sessionID, nodeID string) TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.inflight[turnKey(sessionID, nodeID)]; ok {
		return t.state
	}
	return TurnIdle
}

// LastOutcome returns TurnCommitted or TurnFailed for the node's most recent
// finished turn, or TurnIdle if it has none.
func (o *Orchestrator) LastOutcome(sessionID, nodeID string) TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[turnKey(sessionID, nodeID)]
}

// Busy reports whether the node has a turn in flight.
func (o *Orchestrator) Busy(sessionID, nodeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[turnKey(sessionID, nodeID)]
	return ok
}

func (o *Orchestrator) sessionBusy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	prefix := sessionID + "/"
	for key := range o.inflight {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) begin(key string, cancel context.CancelFunc) (*turn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[key]; ok {
		return nil, false
	}
	t := &turn{state: TurnSending, cancel: cancel}
	o.inflight[key] = t
	return t, true
}

func (o *Orchestrator) setState(t *turn, s TurnState) {
	o.mu.Lock()
	t.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) finish(key string, t *turn, s TurnState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t.state = s
	delete(o.inflight, key)
	o.last[key] = s
}

// Interject cancels the in-flight turn on a node, or on every node of the
// session when nodeID is empty. It reports whether anything was cancelled.
func (o *Orchestrator) Interject(sessionID, nodeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	cancelled := false
	for key, t := range o.inflight {
		if nodeID != "" && key != turnKey(sessionID, nodeID) {
			continue
		}
		if nodeID == "" && !strings.HasPrefix(key, sessionID+"/") {
			continue
		}
		t.interjected = true
		t.cancel()
		cancelled = true
	}
	if cancelled {
		o.log.Info().Str("sessionId", sessionID).Str("nodeId", nodeID).Msg("turn interjected")
	}
	return cancelled
}

func (o *Orchestrator) wasInterjected(t *turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.interjected
}

// Send runs one turn: it persists the user message, streams the reply
// through onDelta, and commits the assistant message once the upstream
// completes. On any failure, including Interject, nothing of the reply is
// persisted.
func (o *Orchestrator) Send(ctx context.Context, req TurnRequest, onDelta func(relay.Delta)) (*TurnResult, error) {
	start := time.Now()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, &domain.ValidationError{Field: "content", Message: "must not be empty"}
	}

	sess, err := o.store.Load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = sess.ActiveNodeID
	}
	if _, err := sess.Node(nodeID); err != nil {
		return nil, err
	}

	key := turnKey(sess.ID, nodeID)
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t, ok := o.begin(key, cancel)
	if !ok {
		return nil, ErrTurnInFlight
	}

	log := o.log.With("sessionId", sess.ID).With("nodeId", nodeID)
	result, err := o.run(turnCtx, t, req, sess.ID, nodeID, content, onDelta, log)
	if err != nil {
		if o.wasInterjected(t) {
			err = ErrInterjected
		}
		o.finish(key, t, TurnFailed)
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("turn failed")
		o.hooks.Emit(ctx, hooks.EventTurnFailed, map[string]any{
			"sessionId": sess.ID,
			"nodeId":    nodeID,
			"error":     err.Error(),
		})
		return nil, err
	}

	o.finish(key, t, TurnCommitted)
	result.Duration = time.Since(start)
	log.Info().
		Str("provider", result.Provider).
		Str("model", result.Model).
		Int("deltas", result.Deltas).
		Dur("duration", result.Duration).
		Msg("turn committed")
	o.hooks.Emit(ctx, hooks.EventTurnCommitted, map[string]any{
		"sessionId": sess.ID,
		"nodeId":    nodeID,
		"messageId": result.Reply.ID,
		"provider":  result.Provider,
		"model":     result.Model,
	})
	return result, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	t *turn,
	req TurnRequest,
	sessionID, nodeID, content string,
	onDelta func(relay.Delta),
	log *logging.Logger,
) (*TurnResult, error) {
	// Sending: persist the user message before anything goes upstream.
	userMsg := domain.NewMessage(domain.RoleUser, "", content)
	sess, err := o.update(ctx, sessionID, func(s *domain.Session) error {
		return s.AppendMessage(nodeID, userMsg)
	})
	if err != nil {
		return nil, err
	}
	node, err := sess.Node(nodeID)
	if err != nil {
		return nil, err
	}

	system := req.SystemPrompt
	if system == "" {
		system = BuildSystemPrompt(PromptConfig{
			Characters:      req.Characters,
			SpeakerID:       req.SpeakerID,
			Scenario:        sess.Scenario,
			RelationshipMap: sess.RelationshipMap,
			Mode:            sess.Mode,
			Narrator:        sess.NarratorEnabled,
			ExtraPrompt:     req.GlobalPrompt,
		})
	}
	model := req.Model
	if model == "" {
		model = sess.ModelID
	}

	o.hooks.Emit(ctx, hooks.EventTurnStarted, map[string]any{
		"sessionId": sessionID,
		"nodeId":    nodeID,
		"model":     model,
	})
	log.Debug().Str("model", model).Int("history", len(node.Messages)).Msg("opening upstream")

	stream, err := o.relay.Open(ctx, relay.Request{
		Model:       model,
		System:      system,
		Messages:    History(node.Messages),
		Credentials: o.creds.Merge(req.Credentials),
	})
	if err != nil {
		return nil, fmt.Errorf("opening upstream: %w", err)
	}
	defer stream.Close()

	// Streaming: accumulate in arrival order.
	o.setState(t, TurnStreaming)
	var acc Accumulator
	for stream.Next() {
		d := stream.Delta()
		acc.Append(d)
		if onDelta != nil {
			onDelta(d)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("reading upstream: %w", err)
	}
	if acc.Count() == 0 || strings.TrimSpace(acc.String()) == "" {
		return nil, ErrEmptyCompletion
	}
	if dropped := stream.Dropped(); dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("malformed stream events skipped")
	}
	if !stream.Completed() {
		log.Warn().Int("deltas", acc.Count()).Msg("upstream closed without end marker")
	}

	// Committed: reload so concurrent node edits are not lost.
	reply := domain.NewMessage(domain.RoleAssistant, req.SpeakerID, acc.String())
	if c, ok := domain.FindCharacter(req.Characters, req.SpeakerID); ok {
		reply.SpeakerName = c.DisplayName()
	}
	if _, err := o.update(ctx, sessionID, func(s *domain.Session) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.AppendMessage(nodeID, reply)
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:   sessionID,
		NodeID:      nodeID,
		UserMessage: userMsg,
		Reply:       reply,
		Provider:    stream.Provider(),
		Model:       stream.Model(),
		Deltas:      acc.Count(),
		Truncated:   !stream.Completed(),
	}, nil
}

// History converts committed node messages into upstream chat messages.
// System messages stay out of the history; the system prompt is sent
// separately.
func History(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// update runs fn against a freshly loaded session and saves the result.
func (o *Orchestrator) update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	o.docMu.Lock()
	defer o.docMu.Unlock()

	s, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return s, nil
}
