// Package hooks dispatches Oracle lifecycle events to registered handlers.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/oracle/internal/logging"
)

// Event names for the hook system.
const (
	EventSessionCreated = "session_created"
	EventSessionDeleted = "session_deleted"
	EventNodeCreated    = "node_created"
	EventNodeDeleted    = "node_deleted"
	EventTurnStarted    = "turn_started"
	EventTurnCommitted  = "turn_committed"
	EventTurnFailed     = "turn_failed"
	EventGatewayStart   = "gateway_start"
	EventGatewayStop    = "gateway_stop"
)

// EventAll subscribes a handler to every event.
const EventAll = "*"

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventSessionCreated,
	EventSessionDeleted,
	EventNodeCreated,
	EventNodeDeleted,
	EventTurnStarted,
	EventTurnCommitted,
	EventTurnFailed,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

// snapshot returns the handlers for event followed by the wildcard handlers.
func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, 0, len(m.handlers[event])+len(m.handlers[EventAll]))
	handlers = append(handlers, m.handlers[event]...)
	if event != EventAll {
		handlers = append(handlers, m.handlers[EventAll]...)
	}
	return handlers
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order, wildcard handlers last. Errors
// are logged but do not prevent subsequent handlers from running. Emit on a
// nil Manager does nothing.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}

	for _, h := range handlers {
		if err := h.handler(ctx, payload); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// Events returns the sorted list of events that have at least one handler
// registered.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
