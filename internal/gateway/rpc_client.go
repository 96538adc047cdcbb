package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// RPCError is an error response returned by the gateway.
type RPCError struct {
	ErrorShape
}

func (e *RPCError) Error() string {
	return e.Code + ": " + e.Message
}

// RPCClient speaks the gateway's WebSocket protocol. It is used by the CLI.
// Calls are serialized; events that arrive while a call is pending are
// passed to that call's event callback.
type RPCClient struct {
	conn  *websocket.Conn
	hello HelloOK
	seq   atomic.Int64
	mu    sync.Mutex
}

// Dial connects to the gateway at url (ws:// or wss://) and completes the
// connect handshake.
func Dial(ctx context.Context, url string, auth *ConnectAuth, info ClientInfo) (*RPCClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	c := &RPCClient{conn: conn}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	var challenge Frame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != EventConnectChallenge {
		conn.Close()
		return nil, fmt.Errorf("expected %s, got %s %s", EventConnectChallenge, challenge.Type, challenge.Event)
	}

	req, err := NewRequest("connect", "connect", ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      info,
		Auth:        auth,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending connect: %w", err)
	}

	var resp Frame
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading hello: %w", err)
	}
	if err := responseError(resp); err != nil {
		conn.Close()
		return nil, err
	}
	if err := json.Unmarshal(resp.Payload, &c.hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	return c, nil
}

// Hello returns the server's handshake response.
func (c *RPCClient) Hello() HelloOK {
	return c.hello
}

// Call sends a request and decodes the response payload into out, which may
// be nil.
func (c *RPCClient) Call(ctx context.Context, method string, params, out any) error {
	return c.CallStream(ctx, method, params, out, nil)
}

// CallStream is Call with a callback for events received before the
// response.
func (c *RPCClient) CallStream(ctx context.Context, method string, params, out any, onEvent func(Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := strconv.FormatInt(c.seq.Add(1), 10)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %s response: %w", method, err)
		}
		switch {
		case f.Type == FrameTypeEvent:
			if onEvent != nil {
				onEvent(f)
			}
		case f.Type == FrameTypeResponse && f.ID == id:
			if err := responseError(f); err != nil {
				return err
			}
			if out == nil || len(f.Payload) == 0 {
				return nil
			}
			return json.Unmarshal(f.Payload, out)
		}
	}
}

// Close closes the connection.
func (c *RPCClient) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func responseError(f Frame) error {
	if f.OK != nil && *f.OK {
		return nil
	}
	if f.Error != nil {
		return &RPCError{ErrorShape: *f.Error}
	}
	return &RPCError{ErrorShape: ErrorShape{Code: "protocol_error", Message: "malformed response"}}
}
