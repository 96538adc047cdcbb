package agent

import (
	"context"
	"strings"

	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/hooks"
)

// CreateSession creates and persists a new session with one active node.
func (o *Orchestrator) CreateSession(ctx context.Context, p domain.NewSessionParams) (*domain.Session, error) {
	s, err := domain.NewSession(p)
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, s); err != nil {
		return nil, err
	}
	o.log.Info().Str("sessionId", s.ID).Str("mode", string(s.Mode)).Msg("session created")
	o.hooks.Emit(ctx, hooks.EventSessionCreated, map[string]any{
		"sessionId": s.ID,
		"mode":      string(s.Mode),
	})
	return s, nil
}

// Session loads a session by id.
func (o *Orchestrator) Session(ctx context.Context, id string) (*domain.Session, error) {
	return o.store.Load(ctx, id)
}

// Sessions lists every stored session, most recently updated first.
func (o *Orchestrator) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return o.store.List(ctx)
}

// DeleteSession removes a session. It fails with ErrTurnInFlight while any
// of its nodes is streaming.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	if o.sessionBusy(id) {
		return ErrTurnInFlight
	}
	o.docMu.Lock()
	err := o.store.Delete(ctx, id)
	o.docMu.Unlock()
	if err != nil {
		return err
	}

	o.mu.Lock()
	for key := range o.last {
		if strings.HasPrefix(key, id+"/") {
			delete(o.last, key)
		}
	}
	o.mu.Unlock()

	o.log.Info().Str("sessionId", id).Msg("session deleted")
	o.hooks.Emit(ctx, hooks.EventSessionDeleted, map[string]any{"sessionId": id})
	return nil
}

// CreateNode adds a node to the session and makes it active.
func (o *Orchestrator) CreateNode(ctx context.Context, sessionID, title string) (*domain.Node, error) {
	var node *domain.Node
	_, err := o.update(ctx, sessionID, func(s *domain.Session) error {
		n, err := s.CreateNode(title)
		node = n
		return err
	})
	if err != nil {
		return nil, err
	}
	o.hooks.Emit(ctx, hooks.EventNodeCreated, map[string]any{
		"sessionId": sessionID,
		"nodeId":    node.ID,
	})
	return node, nil
}

// SwitchNode makes a node active.
func (o *Orchestrator) SwitchNode(ctx context.Context, sessionID, nodeID string) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		return s.SwitchActive(nodeID)
	})
}

// RenameNode retitles a node.
func (o *Orchestrator) RenameNode(ctx context.Context, sessionID, nodeID, title string) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		return s.RenameNode(nodeID, title)
	})
}

// DeleteNode removes a node. A node with a turn in flight cannot be deleted.
func (o *Orchestrator) DeleteNode(ctx context.Context, sessionID, nodeID string) (*domain.Session, error) {
	if o.Busy(sessionID, nodeID) {
		return nil, ErrTurnInFlight
	}
	s, err := o.update(ctx, sessionID, func(s *domain.Session) error {
		return s.DeleteNode(nodeID)
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	delete(o.last, turnKey(sessionID, nodeID))
	o.mu.Unlock()

	o.hooks.Emit(ctx, hooks.EventNodeDeleted, map[string]any{
		"sessionId": sessionID,
		"nodeId":    nodeID,
	})
	return s, nil
}

// SetRelationship records or clears the label between two participants.
func (o *Orchestrator) SetRelationship(ctx context.Context, sessionID, a, b, label string) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		return s.SetRelationship(a, b, label)
	})
}

// SetModel changes the model used for the session's future turns.
func (o *Orchestrator) SetModel(ctx context.Context, sessionID, model string) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		s.SetModel(model)
		return nil
	})
}

// SetScenario replaces the session scenario.
func (o *Orchestrator) SetScenario(ctx context.Context, sessionID, scenario string) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		s.SetScenario(scenario)
		return nil
	})
}

// SetNarrator toggles the narrator.
func (o *Orchestrator) SetNarrator(ctx context.Context, sessionID string, enabled bool) (*domain.Session, error) {
	return o.update(ctx, sessionID, func(s *domain.Session) error {
		s.SetNarrator(enabled)
		return nil
	})
}
