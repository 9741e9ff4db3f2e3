// Package rpcproxy calls methods on objects that live in the Android app.
//
// Remote objects are addressed by instance id. An id is obtained by creating
// an instance, by reading a static field, or from the handle a static method
// returns. Object wraps an id that is resolved lazily on first use.
package rpcproxy

import (
	"context"
	"fmt"
	"sync"
)

// Caller is the remote-object protocol.
type Caller interface {
	// CallMethod invokes method on the instance and returns its result.
	CallMethod(ctx context.Context, instanceID, method string, args ...any) (any, error)

	// CallStaticMethod invokes a static method and returns a handle to the
	// object it produced.
	CallStaticMethod(ctx context.Context, class, method string, args []any) (StaticResult, error)

	// GetStaticFieldInstanceID returns the instance id of a static field,
	// e.g. a Kotlin companion object.
	GetStaticFieldInstanceID(ctx context.Context, class, field string) (string, error)

	// CreateInstanceID constructs a new instance and returns its id.
	CreateInstanceID(ctx context.Context, class string, args []any) (string, error)
}

// StaticResult is what a static method call hands back.
type StaticResult struct {
	InstanceID string `json:"instanceId"`
	Value      any    `json:"value,omitempty"`
}

// Ref is how an object argument travels on the wire.
type Ref struct {
	InstanceID string `json:"instanceId"`
}

// StaticField names a static field whose value is passed by reference.
type StaticField struct {
	Class string
	Field string
}

func (f StaticField) String() string {
	return f.Class + "." + f.Field
}

// Resolver produces the instance id for an Object.
type Resolver func(ctx context.Context, c Caller) (string, error)

// Object is a handle to a remote instance.
type Object struct {
	caller  Caller
	resolve Resolver

	mu         sync.Mutex
	instanceID string
}

// NewObject returns an object whose id comes from resolve on first use.
func NewObject(c Caller, resolve Resolver) *Object {
	return &Object{caller: c, resolve: resolve}
}

// Instance returns an object for an id that is already known.
func Instance(c Caller, instanceID string) *Object {
	return &Object{caller: c, instanceID: instanceID}
}

// FromStaticField returns an object bound to a static field's value.
func FromStaticField(c Caller, class, field string) *Object {
	return NewObject(c, func(ctx context.Context, c Caller) (string, error) {
		return c.GetStaticFieldInstanceID(ctx, class, field)
	})
}

// Constructed returns an object created remotely on first use.
func Constructed(c Caller, class string, args ...any) *Object {
	return NewObject(c, func(ctx context.Context, c Caller) (string, error) {
		return c.CreateInstanceID(ctx, class, args)
	})
}

// Caller returns the caller the object talks through.
func (o *Object) Caller() Caller {
	return o.caller
}

// InstanceID resolves and caches the object's id.
func (o *Object) InstanceID(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.instanceID != "" {
		return o.instanceID, nil
	}
	if o.resolve == nil {
		return "", fmt.Errorf("object has no instance id")
	}
	id, err := o.resolve(ctx, o.caller)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("remote returned an empty instance id")
	}
	o.instanceID = id
	return id, nil
}

// Call invokes method on the object.
func (o *Object) Call(ctx context.Context, method string, args ...any) (any, error) {
	id, err := o.InstanceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve instance for %s: %w", method, err)
	}
	return o.caller.CallMethod(ctx, id, method, args...)
}

// ResolveArgs replaces *Object and StaticField arguments with Refs so they
// can be encoded. Other values pass through unchanged.
func ResolveArgs(ctx context.Context, c Caller, args []any) ([]any, error) {
	resolved := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case *Object:
			id, err := v.InstanceID(ctx)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			resolved[i] = Ref{InstanceID: id}
		case StaticField:
			id, err := c.GetStaticFieldInstanceID(ctx, v.Class, v.Field)
			if err != nil {
				return nil, fmt.Errorf("argument %d (%s): %w", i, v, err)
			}
			resolved[i] = Ref{InstanceID: id}
		default:
			resolved[i] = arg
		}
	}
	return resolved, nil
}

// CallError is a failure reported by the remote side.
type CallError struct {
	Op      string
	Target  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s %s: %s", e.Op, e.Target, e.Message)
}
