package termuxapi

import (
	"context"
	"strings"
)

// Location providers accepted by the service.
const (
	ProviderGPS     = "gps"
	ProviderNetwork = "network"
	ProviderPassive = "passive"
)

// Location request modes accepted by the service.
const (
	RequestOnce    = "once"
	RequestLast    = "last"
	RequestUpdates = "updates"
)

var (
	allowedProviders = []string{ProviderGPS, ProviderNetwork, ProviderPassive}
	allowedRequests  = []string{RequestOnce, RequestLast, RequestUpdates}
)

// Location asks the device for a position fix.
type Location struct {
	provider string
	request  string
}

// NewLocation validates provider and request and returns the command.
// Matching ignores case only: blank or padded values are rejected.
// Callers wanting the service defaults pass ProviderNetwork and RequestOnce.
func NewLocation(provider, request string) (*Location, error) {
	provider = strings.ToLower(provider)
	request = strings.ToLower(request)

	if !contains(allowedProviders, provider) {
		return nil, &ArgumentError{Name: "provider", Value: provider, Allowed: allowedProviders}
	}
	if !contains(allowedRequests, request) {
		return nil, &ArgumentError{Name: "request", Value: request, Allowed: allowedRequests}
	}
	return &Location{provider: provider, request: request}, nil
}

// Method returns "Location".
func (l *Location) Method() string { return "Location" }

// Extras carries the provider and request mode.
func (l *Location) Extras() map[string]any {
	return map[string]any{
		"provider": l.provider,
		"request":  l.request,
	}
}

// Accept takes the first line carrying a latitude. In updates mode the
// service may send status lines before the first fix; those are skipped.
func (l *Location) Accept(data Object) bool {
	return data.Has("latitude")
}

// Provider returns the normalized provider.
func (l *Location) Provider() string { return l.provider }

// Request returns the normalized request mode.
func (l *Location) Request() string { return l.request }

// Locate runs a Location command against endpoint and decodes the fix.
func Locate(ctx context.Context, endpoint Endpoint, provider, request string) (Fix, error) {
	cmd, err := NewLocation(provider, request)
	if err != nil {
		return Fix{}, err
	}
	result, err := Run(ctx, endpoint, cmd)
	if result == nil {
		if err == nil {
			err = ErrNoFix
		}
		return Fix{}, err
	}
	fix, ok := result.Location()
	if !ok {
		return Fix{}, ErrNoFix
	}
	return fix, err
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
