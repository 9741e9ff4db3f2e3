// Package termuxapi is a client for the Termux API socket protocol.
//
// A conversation is one TCP connection: the client writes a single JSON
// request terminated by a newline, then reads a stream of newline-terminated
// JSON lines until a command decides it has its answer, the service reports
// an error or a denied permission, the peer hangs up, or the timeout expires.
//
// Lines are classified in priority order:
//
//	{"error": "..."}                                  terminal, RemoteError
//	{"permissions": [{"permission": ..., "granted": ...}]}  terminal if any denied
//	anything else                                     offered to the Command
package termuxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/xiaozhiapp/termuxbridge/internal/logger"
)

const (
	// DefaultTimeout applies when an Endpoint leaves Timeout unset.
	DefaultTimeout = 10 * time.Second

	recvBufferSize = 1024

	// ItemsKey holds the elements of a response line that is a JSON array.
	ItemsKey = "items"
)

var errNotObject = errors.New("response line is not a JSON object")

// Endpoint is where the Termux API service listens.
type Endpoint struct {
	Host string
	Port int

	// Timeout bounds the connect attempt, each receive, and the whole
	// conversation as seen by Execute.
	Timeout time.Duration
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Command specializes a conversation: which remote method to call, what
// extras to send with it, and which data line is the answer.
type Command interface {
	// Method is the api_method value sent in the request.
	Method() string

	// Extras are merged into the request's "extras" object.
	Extras() map[string]any

	// Accept reports whether data is the final answer. When it returns true
	// the client records data as the result and hangs up.
	Accept(data Object) bool
}

// Request is the body sent once per conversation.
type Request struct {
	Extras map[string]any `json:"extras"`
}

type permissionGrant struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

// Client runs one conversation for one Command. It is single use: build a
// new Client for every call.
type Client struct {
	endpoint Endpoint
	command  Command
	log      *slog.Logger

	started atomic.Bool
	stop    atomic.Bool

	mu     sync.Mutex
	conn   net.Conn
	result Object
	err    error
}

// New prepares a conversation. It fails with ErrNoMethod, before any I/O,
// when cmd does not name a remote method.
func New(endpoint Endpoint, cmd Command) (*Client, error) {
	if cmd == nil || cmd.Method() == "" {
		return nil, ErrNoMethod
	}
	if endpoint.Timeout <= 0 {
		endpoint.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		command:  cmd,
		log:      logger.Component("api").With("method", cmd.Method(), "addr", endpoint.Address()),
	}, nil
}

// Run builds a Client for cmd and executes it.
func Run(ctx context.Context, endpoint Endpoint, cmd Command) (Object, error) {
	c, err := New(endpoint, cmd)
	if err != nil {
		return nil, err
	}
	return c.ExecuteContext(ctx)
}

// Endpoint returns the endpoint with defaults applied.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Payload returns the request body for this conversation.
func (c *Client) Payload() (Request, error) {
	return BuildRequest(c.command)
}

// RequestJSON returns the exact bytes written to the socket, including the
// trailing newline.
func (c *Client) RequestJSON() ([]byte, error) {
	return EncodeRequest(c.command)
}

// BuildRequest returns the request body for cmd: its extras with
// api_method set last, so a command cannot override it.
func BuildRequest(cmd Command) (Request, error) {
	if cmd == nil || cmd.Method() == "" {
		return Request{}, ErrNoMethod
	}
	extras := make(map[string]any)
	for k, v := range cmd.Extras() {
		extras[k] = v
	}
	extras["api_method"] = cmd.Method()
	return Request{Extras: extras}, nil
}

// EncodeRequest returns the request line for cmd, newline included.
func EncodeRequest(cmd Command) ([]byte, error) {
	payload, err := BuildRequest(cmd)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// Execute runs the conversation and blocks until it finishes or the
// endpoint timeout elapses. The connection is closed when Execute returns.
//
// A non-nil result can come back together with a non-nil error: a malformed
// line is recorded and the conversation continues, so a later answer does
// not clear it.
func (c *Client) Execute() (Object, error) {
	return c.ExecuteContext(context.Background())
}

// ExecuteContext is Execute with caller cancellation. Cancelling ctx is
// handled like the timeout: the outcome is marked and the connection closed
// without waiting for the worker to exit.
func (c *Client) ExecuteContext(ctx context.Context) (Object, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run()
	}()

	timer := time.NewTimer(c.endpoint.Timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.log.Debug("Request timed out", "timeout", c.endpoint.Timeout)
		c.setError(ErrRequestTimeout)
		c.Disconnect()
	case <-ctx.Done():
		c.log.Debug("Request cancelled", "error", ctx.Err())
		c.setError(fmt.Errorf("request cancelled: %w", ctx.Err()))
		c.Disconnect()
	}

	return c.outcome()
}

// Disconnect stops the conversation and closes the socket. It is safe to
// call more than once and from any goroutine.
func (c *Client) Disconnect() {
	c.stop.Store(true)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		c.log.Debug("Close socket error", "error", err)
	}
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) run() {
	defer c.Disconnect()

	conn, err := c.connect()
	if err != nil {
		c.setError(err)
		return
	}
	if conn == nil {
		return
	}

	if err := c.sendRequest(conn); err != nil {
		c.setError(err)
		return
	}

	c.receive(conn)
}

func (c *Client) connect() (net.Conn, error) {
	addr := c.endpoint.Address()
	c.log.Debug("Connecting")

	dialer := net.Dialer{Timeout: c.endpoint.Timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop.Load() {
		// Execute gave up while we were dialing.
		conn.Close()
		return nil, nil
	}
	c.conn = conn
	return conn, nil
}

func classifyDialError(addr string, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %s", ErrConnectionRefused, addr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	}
	return fmt.Errorf("unexpected error: %w", err)
}

func (c *Client) sendRequest(conn net.Conn) error {
	data, err := c.RequestJSON()
	if err != nil {
		return err
	}
	c.log.Debug("Sending request", "request", strings.TrimSpace(string(data)))

	if err := conn.SetWriteDeadline(time.Now().Add(c.endpoint.Timeout)); err != nil {
		return fmt.Errorf("unexpected error: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("unexpected error: failed to send request: %w", err)
	}
	return nil
}

// receive reads the response stream. The line buffer only ever holds the
// bytes of the current unterminated line, so a line (or a multi-byte rune)
// split across reads is decoded once it is complete.
func (c *Client) receive(conn net.Conn) {
	chunk := make([]byte, recvBufferSize)
	var line []byte

	for !c.stop.Load() {
		if err := conn.SetReadDeadline(time.Now().Add(c.endpoint.Timeout)); err != nil {
			if !c.stop.Load() {
				c.setError(fmt.Errorf("unexpected error: %w", err))
			}
			return
		}

		n, err := conn.Read(chunk)
		for _, b := range chunk[:n] {
			if b != '\n' {
				line = append(line, b)
				continue
			}
			c.processLine(line)
			line = line[:0]
			if c.stop.Load() {
				return
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.log.Debug("Connection closed by peer")
			case c.stop.Load():
			default:
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					c.setError(ErrReceiveTimeout)
				} else {
					c.setError(fmt.Errorf("unexpected error: %w", err))
				}
			}
			return
		}
	}
}

func (c *Client) processLine(raw []byte) {
	text := strings.TrimSpace(string(raw))

	if !utf8.ValidString(text) {
		c.setError(&InvalidJSONError{Line: text, Err: errors.New("invalid UTF-8")})
		c.log.Debug("Line is not valid UTF-8", "line", text)
		return
	}

	data, err := decodeLine(text)
	if err != nil {
		c.setError(&InvalidJSONError{Line: text, Err: err})
		c.log.Debug("JSON decode failed", "line", text, "error", err)
		return
	}

	c.handleResponse(data)
}

// decodeLine decodes one response line. Top-level arrays are delivered
// under ItemsKey so list replies reach the command as data.
func decodeLine(text string) (Object, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case map[string]any:
		return Object(v), nil
	case []any:
		return Object{ItemsKey: v}, nil
	default:
		return nil, errNotObject
	}
}

func (c *Client) handleResponse(data Object) {
	switch {
	case data.Has("error"):
		c.handleError(data["error"])
	case data.Has("permissions"):
		c.handlePermissions(data["permissions"])
	default:
		c.handleData(data)
	}
}

func (c *Client) handleError(value any) {
	msg, ok := value.(string)
	if !ok {
		encoded, _ := json.Marshal(value)
		msg = string(encoded)
	}
	c.setError(&RemoteError{Message: msg})
	c.log.Debug("API error", "error", msg)
	c.Disconnect()
}

func (c *Client) handlePermissions(value any) {
	var grants []permissionGrant
	encoded, _ := json.Marshal(value)
	if err := json.Unmarshal(encoded, &grants); err != nil {
		c.setError(fmt.Errorf("unexpected error: malformed permissions list: %w", err))
		c.Disconnect()
		return
	}

	var denied []string
	for _, g := range grants {
		c.log.Debug("Permission", "permission", g.Permission, "granted", g.Granted)
		if !g.Granted {
			denied = append(denied, g.Permission)
		}
	}
	if len(denied) > 0 {
		c.setError(&PermissionDeniedError{Permissions: denied})
		c.Disconnect()
	}
}

func (c *Client) handleData(data Object) {
	if !c.command.Accept(data) {
		c.log.Debug("Ignoring response line", "keys", len(data))
		return
	}
	c.mu.Lock()
	c.result = data
	c.mu.Unlock()
	c.log.Debug("Final response received")
	c.Disconnect()
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Client) outcome() (Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// IsTimeout reports whether err is any of the client's timeout errors.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrReceiveTimeout) ||
		errors.Is(err, ErrConnectTimeout)
}
