package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/soyeahso/oracle/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func noop(_ context.Context, _ Payload) error { return nil }

// --- Emit tests ---

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventTurnCommitted, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventTurnCommitted, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventTurnCommitted, nil)
	assert.True(t, called)
}

func TestManager_Emit_RegistrationOrder(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventNodeCreated, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventAll, "wildcard", func(_ context.Context, _ Payload) error {
		order = append(order, "wildcard")
		return nil
	})
	m.On(EventNodeCreated, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventNodeCreated, nil)
	assert.Equal(t, []string{"first", "second", "wildcard"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var got map[string]any
	m.On(EventTurnStarted, "test", func(_ context.Context, p Payload) error {
		got = p.Data
		return nil
	})

	m.Emit(context.Background(), EventTurnStarted, map[string]any{
		"sessionId": "s1",
		"nodeId":    "n1",
	})

	assert.Equal(t, "s1", got["sessionId"])
	assert.Equal(t, "n1", got["nodeId"])
}

func TestManager_Emit_HandlerErrorDoesNotStopOthers(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventTurnFailed, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventTurnFailed, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventTurnFailed, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	m.Emit(context.Background(), EventSessionCreated, nil)
	m.Off(EventAll, "anything")
	assert.Nil(t, m.Events())
}

func TestManager_Wildcard(t *testing.T) {
	m := testManager()

	var seen []string
	m.On(EventAll, "audit", func(_ context.Context, p Payload) error {
		seen = append(seen, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventSessionCreated, nil)
	m.Emit(context.Background(), EventTurnCommitted, nil)
	assert.Equal(t, []string{EventSessionCreated, EventTurnCommitted}, seen)
}

func TestManager_EmitAll_NotDuplicated(t *testing.T) {
	m := testManager()

	var n int
	m.On(EventAll, "once", func(_ context.Context, _ Payload) error {
		n++
		return nil
	})
	m.Emit(context.Background(), EventAll, nil)
	assert.Equal(t, 1, n)
}

// --- Registration tests ---

func TestManager_Off(t *testing.T) {
	m := testManager()

	var callCount int
	m.On(EventSessionDeleted, "removable", func(_ context.Context, _ Payload) error {
		callCount++
		return nil
	})

	m.Emit(context.Background(), EventSessionDeleted, nil)
	m.Off(EventSessionDeleted, "removable")
	m.Emit(context.Background(), EventSessionDeleted, nil)
	assert.Equal(t, 1, callCount)
}

func TestManager_Off_KeepsOthers(t *testing.T) {
	m := testManager()

	var keepCalled int
	m.On(EventGatewayStart, "remove-me", noop)
	m.On(EventGatewayStart, "keep-me", func(_ context.Context, _ Payload) error {
		keepCalled++
		return nil
	})

	m.Off(EventGatewayStart, "remove-me")
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, 1, keepCalled)
}

func TestManager_Events_Sorted(t *testing.T) {
	m := testManager()

	m.On(EventTurnStarted, "h1", noop)
	m.On(EventGatewayStart, "h2", noop)

	assert.Equal(t, []string{EventGatewayStart, EventTurnStarted}, m.Events())
}

func TestAllEvents(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventTurnCommitted)
	assert.NotContains(t, AllEvents, EventAll)
}
