package rpcproxy

import (
	"context"
	"errors"
	"testing"
)

// countingCaller is an in-memory Caller.
type countingCaller struct {
	staticLookups int
	creates       int
	calls         []string
	fail          error
}

func (c *countingCaller) CallMethod(ctx context.Context, instanceID, method string, args ...any) (any, error) {
	c.calls = append(c.calls, instanceID+"."+method)
	return len(args), nil
}

func (c *countingCaller) CallStaticMethod(ctx context.Context, class, method string, args []any) (StaticResult, error) {
	return StaticResult{InstanceID: class + "#" + method}, nil
}

func (c *countingCaller) GetStaticFieldInstanceID(ctx context.Context, class, field string) (string, error) {
	c.staticLookups++
	if c.fail != nil {
		return "", c.fail
	}
	return class + "." + field, nil
}

func (c *countingCaller) CreateInstanceID(ctx context.Context, class string, args []any) (string, error) {
	c.creates++
	return "new:" + class, nil
}

func TestObject_ResolvesOnce(t *testing.T) {
	caller := &countingCaller{}
	obj := FromStaticField(caller, "cc.example.Message", "Companion")

	for i := 0; i < 3; i++ {
		if _, err := obj.Call(context.Background(), "ping"); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}

	if caller.staticLookups != 1 {
		t.Errorf("static field resolved %d times, want 1", caller.staticLookups)
	}
	if len(caller.calls) != 3 || caller.calls[0] != "cc.example.Message.Companion.ping" {
		t.Errorf("unexpected calls %v", caller.calls)
	}
}

func TestObject_Constructed(t *testing.T) {
	caller := &countingCaller{}
	obj := Constructed(caller, "android.content.Intent", "VIEW")

	id, err := obj.InstanceID(context.Background())
	if err != nil || id != "new:android.content.Intent" {
		t.Errorf("InstanceID = (%q, %v)", id, err)
	}
	obj.InstanceID(context.Background())
	if caller.creates != 1 {
		t.Errorf("instance created %d times, want 1", caller.creates)
	}
}

func TestObject_ResolveFailure(t *testing.T) {
	boom := errors.New("boom")
	caller := &countingCaller{fail: boom}
	obj := FromStaticField(caller, "X", "Y")

	if _, err := obj.Call(context.Background(), "m"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped resolve error, got %v", err)
	}
	// A failed resolution is retried on the next use.
	obj.Call(context.Background(), "m")
	if caller.staticLookups != 2 {
		t.Errorf("expected retry after failure, lookups = %d", caller.staticLookups)
	}
}

func TestObject_WithoutID(t *testing.T) {
	obj := NewObject(&countingCaller{}, nil)
	if _, err := obj.InstanceID(context.Background()); err == nil {
		t.Error("expected error for object without id or resolver")
	}

	empty := NewObject(&countingCaller{}, func(context.Context, Caller) (string, error) { return "", nil })
	if _, err := empty.InstanceID(context.Background()); err == nil {
		t.Error("expected error for empty instance id")
	}
}

func TestResolveArgs(t *testing.T) {
	caller := &countingCaller{}
	obj := Instance(caller, "activityContext")
	args := []any{"text", 42, obj, StaticField{Class: "android.content.Intent", Field: "FLAG_ACTIVITY_NEW_TASK"}}

	resolved, err := ResolveArgs(context.Background(), caller, args)
	if err != nil {
		t.Fatalf("ResolveArgs failed: %v", err)
	}
	if resolved[0] != "text" || resolved[1] != 42 {
		t.Errorf("plain values changed: %v", resolved[:2])
	}
	if resolved[2] != (Ref{InstanceID: "activityContext"}) {
		t.Errorf("object not converted: %v", resolved[2])
	}
	if resolved[3] != (Ref{InstanceID: "android.content.Intent.FLAG_ACTIVITY_NEW_TASK"}) {
		t.Errorf("static field not converted: %v", resolved[3])
	}
	if args[2] != obj {
		t.Error("ResolveArgs must not modify its input")
	}
}
