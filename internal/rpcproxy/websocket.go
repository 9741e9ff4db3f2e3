package rpcproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xiaozhiapp/termuxbridge/internal/logger"
)

// Operation names on the wire.
const (
	OpCallMethod       = "callMethod"
	OpCallStaticMethod = "callStaticMethod"
	OpGetStaticField   = "getStaticField"
	OpCreateInstance   = "createInstance"
)

// DefaultCallTimeout bounds a call when the client was built without one.
const DefaultCallTimeout = 5 * time.Second

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("rpc client closed")

// Message is one request frame.
type Message struct {
	ID         uint64 `json:"id"`
	Op         string `json:"op"`
	InstanceID string `json:"instanceId,omitempty"`
	Class      string `json:"class,omitempty"`
	Method     string `json:"method,omitempty"`
	Field      string `json:"field,omitempty"`
	Args       []any  `json:"args,omitempty"`
}

// Reply is one response frame.
type Reply struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WSClient is a Caller speaking JSON frames over a websocket. Calls are
// serialized: one request is in flight at a time.
type WSClient struct {
	url     string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
}

// Dial connects to the proxy at url. timeout bounds the handshake and every
// later call; zero selects DefaultCallTimeout.
func Dial(ctx context.Context, url string, timeout time.Duration) (*WSClient, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc proxy %s: %w", url, err)
	}
	return &WSClient{
		url:     url,
		timeout: timeout,
		conn:    conn,
		log:     logger.Component("rpc").With("url", url),
	}, nil
}

// CallMethod implements Caller.
func (c *WSClient) CallMethod(ctx context.Context, instanceID, method string, args ...any) (any, error) {
	resolved, err := ResolveArgs(ctx, c, args)
	if err != nil {
		return nil, err
	}
	raw, err := c.roundTrip(ctx, Message{Op: OpCallMethod, InstanceID: instanceID, Method: method, Args: resolved}, instanceID+"."+method)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", method, err)
	}
	return result, nil
}

// CallStaticMethod implements Caller.
func (c *WSClient) CallStaticMethod(ctx context.Context, class, method string, args []any) (StaticResult, error) {
	resolved, err := ResolveArgs(ctx, c, args)
	if err != nil {
		return StaticResult{}, err
	}
	raw, err := c.roundTrip(ctx, Message{Op: OpCallStaticMethod, Class: class, Method: method, Args: resolved}, class+"."+method)
	if err != nil {
		return StaticResult{}, err
	}
	var result StaticResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return StaticResult{}, fmt.Errorf("decode result of %s.%s: %w", class, method, err)
	}
	return result, nil
}

// GetStaticFieldInstanceID implements Caller.
func (c *WSClient) GetStaticFieldInstanceID(ctx context.Context, class, field string) (string, error) {
	raw, err := c.roundTrip(ctx, Message{Op: OpGetStaticField, Class: class, Field: field}, class+"."+field)
	if err != nil {
		return "", err
	}
	return decodeInstanceID(raw)
}

// CreateInstanceID implements Caller.
func (c *WSClient) CreateInstanceID(ctx context.Context, class string, args []any) (string, error) {
	resolved, err := ResolveArgs(ctx, c, args)
	if err != nil {
		return "", err
	}
	raw, err := c.roundTrip(ctx, Message{Op: OpCreateInstance, Class: class, Args: resolved}, class)
	if err != nil {
		return "", err
	}
	return decodeInstanceID(raw)
}

// decodeInstanceID accepts either a bare id string or {"instanceId": id}.
func decodeInstanceID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("decode instance id: %w", err)
	}
	return ref.InstanceID, nil
}

func (c *WSClient) roundTrip(ctx context.Context, msg Message, target string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	msg.ID = c.nextID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Unblock the read if the caller gives up early.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.log.Debug("Calling", "op", msg.Op, "target", target, "id", msg.ID)

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("rpc %s %s: send: %w", msg.Op, target, err)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			// A failed read leaves the websocket unusable.
			c.closed = true
			c.conn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rpc %s %s: receive: %w", msg.Op, target, err)
		}
		if reply.ID != msg.ID {
			// Replies are matched by id; anything else is noise.
			c.log.Debug("Dropping stale reply", "id", reply.ID, "want", msg.ID)
			continue
		}
		if reply.Error != "" {
			return nil, &CallError{Op: msg.Op, Target: target, Message: reply.Error}
		}
		return reply.Result, nil
	}
}

// Close closes the websocket. It is safe to call more than once.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.conn.Close()
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.log.Debug("Close handshake failed", "error", err)
	}
	return c.conn.Close()
}
