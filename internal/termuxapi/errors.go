package termuxapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoMethod is returned when a command does not name a remote method.
	ErrNoMethod = errors.New("command does not define an api method")

	// ErrAlreadyExecuted is returned by a second Execute on the same client.
	ErrAlreadyExecuted = errors.New("command already executed")

	// ErrConnectionRefused means nothing accepted the TCP connection.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrConnectTimeout means the TCP connect attempt timed out.
	ErrConnectTimeout = errors.New("connection timed out")

	// ErrReceiveTimeout means a single read waited longer than the timeout.
	ErrReceiveTimeout = errors.New("receive timed out")

	// ErrRequestTimeout means the whole conversation outlived the timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNoFix means a location reply lacked numeric coordinates.
	ErrNoFix = errors.New("location reply has no numeric coordinates")
)

// RemoteError is an {"error": ...} line reported by the service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// PermissionDeniedError lists the Android permissions the service reported
// as not granted.
type PermissionDeniedError struct {
	Permissions []string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + strings.Join(e.Permissions, ", ")
}

// InvalidJSONError records a response line that failed to decode.
type InvalidJSONError struct {
	Line string
	Err  error
}

func (e *InvalidJSONError) Error() string {
	return "invalid JSON: " + e.Line
}

func (e *InvalidJSONError) Unwrap() error {
	return e.Err
}

// ArgumentError is a constructor argument outside the values the service accepts.
type ArgumentError struct {
	Name    string
	Value   string
	Allowed []string
}

func (e *ArgumentError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s: %q", e.Name, e.Value)
	}
	allowed := append([]string(nil), e.Allowed...)
	sort.Strings(allowed)
	return fmt.Sprintf("invalid %s: %s. Allowed: %s", e.Name, e.Value, strings.Join(allowed, ", "))
}
