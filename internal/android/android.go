// Package android wraps the Android-side objects the assistant app exposes
// over the remote-object proxy: intents and URIs for launching activities,
// the assistant's message companion, and the Termux API service control.
package android

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xiaozhiapp/termuxbridge/internal/rpcproxy"
	"github.com/xiaozhiapp/termuxbridge/internal/termuxapi"
)

const (
	intentClass = "android.content.Intent"
	uriClass    = "android.net.Uri"

	// messageClass hosts the companion object the app publishes its
	// assistant and Termux controls on.
	messageClass   = "cc.axyz.xiaozhi.rpc.model.Message"
	companionField = "Companion"

	// ActivityContext is the well-known instance id of the foreground activity.
	ActivityContext = "activityContext"
)

// Intent constants, passed by reference.
var (
	ActionView          = rpcproxy.StaticField{Class: intentClass, Field: "ACTION_VIEW"}
	FlagActivityNewTask = rpcproxy.StaticField{Class: intentClass, Field: "FLAG_ACTIVITY_NEW_TASK"}
)

// ParseUri calls android.net.Uri.parse and returns the resulting Uri.
func ParseUri(ctx context.Context, c rpcproxy.Caller, uri string) (*rpcproxy.Object, error) {
	res, err := c.CallStaticMethod(ctx, uriClass, "parse", []any{uri})
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if res.InstanceID == "" {
		return nil, fmt.Errorf("parse uri %q: no instance returned", uri)
	}
	return rpcproxy.Instance(c, res.InstanceID), nil
}

// Intent is an android.content.Intent created on first use.
type Intent struct {
	*rpcproxy.Object
}

// NewIntent returns an intent for action, which may be a string, a
// StaticField such as ActionView, or nil for an empty intent.
func NewIntent(c rpcproxy.Caller, action any) *Intent {
	var args []any
	if action != nil {
		args = []any{action}
	}
	return &Intent{Object: rpcproxy.Constructed(c, intentClass, args...)}
}

// SetFlags calls Intent.setFlags.
func (i *Intent) SetFlags(ctx context.Context, flags any) error {
	_, err := i.Call(ctx, "setFlags", flags)
	return err
}

// SetData calls Intent.setData with a Uri.
func (i *Intent) SetData(ctx context.Context, uri *rpcproxy.Object) error {
	_, err := i.Call(ctx, "setData", uri)
	return err
}

// Assistant is the app's message companion: flashlight control, the chat
// surface, agent and tool listings, and location lookups.
type Assistant struct {
	obj *rpcproxy.Object
}

// NewAssistant binds to the message companion.
func NewAssistant(c rpcproxy.Caller) *Assistant {
	return &Assistant{obj: rpcproxy.FromStaticField(c, messageClass, companionField)}
}

// OpenFlashlight turns the camera flashlight on.
func (a *Assistant) OpenFlashlight(ctx context.Context) error {
	_, err := a.obj.Call(ctx, "openFlashLight")
	return err
}

// CloseFlashlight turns the camera flashlight off.
func (a *Assistant) CloseFlashlight(ctx context.Context) error {
	_, err := a.obj.Call(ctx, "closeFlashLight")
	return err
}

// SetMessageLoading shows a pending message bubble with content.
func (a *Assistant) SetMessageLoading(ctx context.Context, content string) error {
	_, err := a.obj.Call(ctx, "setMessageLoading", content)
	return err
}

// AddRobotMessage appends an assistant-authored message to the chat.
func (a *Assistant) AddRobotMessage(ctx context.Context, message string) error {
	_, err := a.obj.Call(ctx, "addMessageRobot", message)
	return err
}

// SendMessage sends message as the user; show also displays it.
func (a *Assistant) SendMessage(ctx context.Context, message string, show bool) error {
	_, err := a.obj.Call(ctx, "sendMessage", message, show)
	return err
}

// SetState pushes state, encoded as JSON, and returns the app's reply.
func (a *Assistant) SetState(ctx context.Context, state map[string]any) (string, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return a.callString(ctx, "setState", string(encoded))
}

// CurrentAgent returns the active agent as the app reports it.
func (a *Assistant) CurrentAgent(ctx context.Context) (string, error) {
	return a.callString(ctx, "getCurrentAgent")
}

// Agents returns the configured agents, JSON-encoded by the app.
func (a *Assistant) Agents(ctx context.Context) (string, error) {
	return a.callString(ctx, "getAgents")
}

// Tools returns the tools the current agent may call.
func (a *Assistant) Tools(ctx context.Context) (string, error) {
	return a.callString(ctx, "getTools")
}

// CurrentLocation asks the app itself for a location using provider; id
// correlates the asynchronous answer.
func (a *Assistant) CurrentLocation(ctx context.Context, provider, id string) (string, error) {
	return a.callString(ctx, "getCurrentLocation", provider, id)
}

func (a *Assistant) callString(ctx context.Context, method string, args ...any) (string, error) {
	res, err := a.obj.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	return asString(res), nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		encoded, _ := json.Marshal(s)
		return string(encoded)
	}
}

// ServiceError is a failure reported by startTermuxService.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return "termux service failed to start"
	}
	return "termux service failed to start: " + e.Message
}

// TermuxService controls the in-app Termux API service, which is what
// listens on the socket termuxapi talks to.
type TermuxService struct {
	obj *rpcproxy.Object

	mu   sync.Mutex
	port int
}

// NewTermuxService binds to the message companion.
func NewTermuxService(c rpcproxy.Caller) *TermuxService {
	return &TermuxService{obj: rpcproxy.FromStaticField(c, messageClass, companionField)}
}

// Start starts the Termux API bridge inside the app.
func (s *TermuxService) Start(ctx context.Context) (bool, error) {
	res, err := s.obj.Call(ctx, "startTermuxApi")
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Stop stops the Termux API bridge.
func (s *TermuxService) Stop(ctx context.Context) error {
	_, err := s.obj.Call(ctx, "stopTermuxApi")
	return err
}

// IsRunning reports whether the Termux API bridge is running.
func (s *TermuxService) IsRunning(ctx context.Context) (bool, error) {
	res, err := s.obj.Call(ctx, "isTermuxApiRunning")
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

type serviceReply struct {
	Success bool   `json:"success"`
	Port    int    `json:"port"`
	Error   string `json:"error"`
}

// StartService starts the socket service and returns the port it listens
// on. The port is remembered for Port and Endpoint.
func (s *TermuxService) StartService(ctx context.Context) (int, error) {
	reply, err := s.serviceCall(ctx, "startTermuxService")
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.port = reply.Port
	s.mu.Unlock()
	if !reply.Success {
		return reply.Port, &ServiceError{Message: reply.Error}
	}
	return reply.Port, nil
}

// StopService stops the socket service and reports whether it stopped.
func (s *TermuxService) StopService(ctx context.Context) (bool, error) {
	reply, err := s.serviceCall(ctx, "stopTermuxService")
	if err != nil {
		return false, err
	}
	return reply.Success, nil
}

func (s *TermuxService) serviceCall(ctx context.Context, method string) (serviceReply, error) {
	res, err := s.obj.Call(ctx, method)
	if err != nil {
		return serviceReply{}, err
	}
	var reply serviceReply
	if err := json.Unmarshal([]byte(asString(res)), &reply); err != nil {
		return serviceReply{}, fmt.Errorf("%s returned invalid JSON: %w", method, err)
	}
	return reply, nil
}

// Port returns the port from the last StartService, or 0.
func (s *TermuxService) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Endpoint returns the termuxapi endpoint for the running service.
func (s *TermuxService) Endpoint(host string, timeout time.Duration) (termuxapi.Endpoint, error) {
	port := s.Port()
	if port <= 0 {
		return termuxapi.Endpoint{}, fmt.Errorf("termux service port unknown; call StartService first")
	}
	return termuxapi.Endpoint{Host: host, Port: port, Timeout: timeout}, nil
}

// Device is the foreground activity plus the assistant companion.
type Device struct {
	*Assistant
	activity *rpcproxy.Object
	caller   rpcproxy.Caller
}

// NewDevice binds to the foreground activity.
func NewDevice(c rpcproxy.Caller) *Device {
	return &Device{
		Assistant: NewAssistant(c),
		activity:  rpcproxy.Instance(c, ActivityContext),
		caller:    c,
	}
}

// StartActivity launches intent from the foreground activity.
func (d *Device) StartActivity(ctx context.Context, intent *Intent) error {
	_, err := d.activity.Call(ctx, "startActivity", intent.Object)
	return err
}

// OpenURI launches an ACTION_VIEW intent for uri in a new task, e.g. a
// baidumap:// navigation link.
func (d *Device) OpenURI(ctx context.Context, uri string) error {
	intent := NewIntent(d.caller, ActionView)
	if err := intent.SetFlags(ctx, FlagActivityNewTask); err != nil {
		return fmt.Errorf("set intent flags: %w", err)
	}
	parsed, err := ParseUri(ctx, d.caller, uri)
	if err != nil {
		return err
	}
	if err := intent.SetData(ctx, parsed); err != nil {
		return fmt.Errorf("set intent data: %w", err)
	}
	return d.StartActivity(ctx, intent)
}
